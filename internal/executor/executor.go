package executor

import (
	"context"
	"strings"

	"github.com/arborflow/arborflow/internal/gateway"
	"github.com/arborflow/arborflow/internal/graph"
)

// Deps are the capabilities an executor needs beyond its own inputs.
// The runner constructs one Deps per run (ForEach children get their
// own Deps wired to the same gateway client and a forwarding Emit).
type Deps struct {
	Gateway *gateway.Client
	Store   *StateStore

	// Emit publishes a node-scoped event (nodeDelta, thinking) into the
	// run's sink. The executor fills in Type and NodeID; the runner
	// fills in RunID when it is left empty.
	Emit func(graph.RunEvent)

	// SetInFlight/ClearInFlight record the session key and gateway chat
	// run ID of an in-progress chat call so the runner's cancel() can
	// abort it. ClearInFlight MUST be called even on error paths.
	SetInFlight   func(nodeID, sessionKey, chatRunID string)
	ClearInFlight func(nodeID string)

	// DisableEdge marks an edge disabled in the parent run's shared
	// disabled-edge set (used by switch and foreach).
	DisableEdge func(edgeID string)

	// RunSubgraph executes sub as an independent child run sharing this
	// Deps' gateway client and event sink, blocking until it finishes.
	// Supplied by internal/runner to avoid a circular import.
	RunSubgraph func(ctx context.Context, sub *graph.Graph, globalInput string) error

	// Metrics is optional; nil when no collector is wired in.
	Metrics Metrics
}

// Metrics is the subset of metrics an executor itself can observe,
// such as a ForEach node's own fan-out size.
type Metrics interface {
	RecordForeachFanout(n int)
}

// Input is everything an executor needs about the node it is running.
type Input struct {
	RunID  string
	NodeID string
	Node   *graph.Node
	Graph  *graph.Graph

	// Payloads holds the payloads of in-edges whose edge ID is not in
	// the disabled set, in edge-list order.
	Payloads []graph.NodePayload

	// UpstreamByLabel maps a source node's label to its payload, for
	// executors (Template) that address inputs by name rather than
	// position.
	UpstreamByLabel map[string]graph.NodePayload

	// OutEdges are this node's out-edges, needed by switch/foreach to
	// decide which to disable.
	OutEdges []graph.Edge
}

// Executor runs a single node kind to produce its output payload.
type Executor interface {
	Execute(ctx context.Context, in Input, deps *Deps) (graph.NodePayload, error)
}

// Registry returns a fresh kind → Executor map. The runner looks up
// by graph.Node.Kind for each dispatch.
func Registry() map[graph.Kind]Executor {
	return map[graph.Kind]Executor{
		graph.KindInput:    inputExecutor{},
		graph.KindTemplate: templateExecutor{},
		graph.KindAgent:    agentExecutor{},
		graph.KindMerge:    mergeExecutor{},
		graph.KindJudge:    judgeExecutor{},
		graph.KindSwitch:   switchExecutor{},
		graph.KindExtract:  extractExecutor{},
		graph.KindInvoke:   invokeExecutor{},
		graph.KindForEach:  forEachExecutor{},
		graph.KindState:    stateExecutor{},
		graph.KindOutput:   outputExecutor{},
	}
}

// concatTexts joins payload texts with "\n\n", the convention used by
// the agent, invoke and foreach executors to merge multiple in-edges
// into a single upstream string (spec.md §4.3).
func concatTexts(payloads []graph.NodePayload) string {
	parts := make([]string, len(payloads))
	for i, p := range payloads {
		parts[i] = p.Text
	}
	return strings.Join(parts, "\n\n")
}

// firstJSON returns the JSON value of the first payload that carries
// one, or nil.
func firstJSON(payloads []graph.NodePayload) interface{} {
	for _, p := range payloads {
		if p.JSON != nil {
			return p.JSON
		}
	}
	return nil
}
