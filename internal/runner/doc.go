// Package runner implements the graph runner (spec.md §4.4): level
// scheduling by Kahn-style peeling, per-node lifecycle events, the
// disabled-edge cascading halt, cooperative cancellation, and ForEach
// child-runner spawning.
package runner
