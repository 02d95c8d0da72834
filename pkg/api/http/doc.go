// Package http implements the run-submission protocol over REST and
// server-sent events: startRun, subscribe, cancel, plus health and
// Prometheus metrics endpoints.
package http
