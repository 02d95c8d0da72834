// Package execpool bounds the number of node executors a runner may
// have in flight at once. A graph level can contain far more nodes
// than it is safe to dispatch against the gateway at the same time;
// Pool provides the semaphore every runner shares, plus a health
// monitor that watches the gateway connection rather than idle/busy
// worker counts.
package execpool
