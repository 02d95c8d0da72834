// Package registry implements the run registry and subscription bus
// (spec.md §4.5): start(graph, input) mints a run ID and launches a
// runner asynchronously; subscribe(runId) replays buffered events
// then forwards live ones; cancel(runId) requests cooperative
// cancellation. Each run's event buffer is retained for a grace
// window after termination so a late subscriber does not miss it.
package registry
