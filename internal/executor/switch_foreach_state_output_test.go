package executor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arborflow/arborflow/internal/graph"
)

func TestSwitchExecutor_RoutesOnRegexMatch(t *testing.T) {
	node := nodeWithConfig(t, "s1", graph.KindSwitch, switchConfig{
		Rules: []switchRule{
			{ID: "urgent", Mode: "regex", Condition: "(?i)urgent"},
			{ID: "normal", Mode: "regex", Condition: "."},
		},
	})
	disabled := map[string]bool{}
	deps := &Deps{DisableEdge: func(id string) { disabled[id] = true }}

	in := Input{
		Node:     node,
		Payloads: []graph.NodePayload{{Text: "this is urgent"}},
		OutEdges: []graph.Edge{
			{ID: "e-urgent", SourceHandle: "urgent"},
			{ID: "e-normal", SourceHandle: "normal"},
		},
	}
	payload, err := switchExecutor{}.Execute(withTimeout(t), in, deps)
	require.NoError(t, err)
	assert.Equal(t, "Flow routed to 2 branches", payload.Text)
	assert.False(t, disabled["e-urgent"])
	assert.False(t, disabled["e-normal"])
}

func TestSwitchExecutor_NoMatchDisablesAllOutEdges(t *testing.T) {
	node := nodeWithConfig(t, "s2", graph.KindSwitch, switchConfig{
		Rules: []switchRule{{ID: "a", Mode: "regex", Condition: "xyz"}},
	})
	disabled := map[string]bool{}
	deps := &Deps{DisableEdge: func(id string) { disabled[id] = true }}

	in := Input{
		Node:     node,
		Payloads: []graph.NodePayload{{Text: "nothing matches"}},
		OutEdges: []graph.Edge{{ID: "e1", SourceHandle: "a"}},
	}
	payload, err := switchExecutor{}.Execute(withTimeout(t), in, deps)
	require.NoError(t, err)
	assert.Equal(t, "Halted (No conditions matched)", payload.Text)
	assert.True(t, disabled["e1"])
}

func TestSwitchExecutor_InvalidRegexIsSkippedNotFatal(t *testing.T) {
	node := nodeWithConfig(t, "s3", graph.KindSwitch, switchConfig{
		Rules: []switchRule{{ID: "bad", Mode: "regex", Condition: "("}},
	})
	deps := &Deps{DisableEdge: func(string) {}}
	in := Input{Node: node, Payloads: []graph.NodePayload{{Text: "anything"}}, OutEdges: []graph.Edge{{ID: "e1", SourceHandle: "bad"}}}
	payload, err := switchExecutor{}.Execute(withTimeout(t), in, deps)
	require.NoError(t, err)
	assert.Equal(t, "Halted (No conditions matched)", payload.Text)
}

func TestSwitchExecutor_FieldMatchWalksDottedPath(t *testing.T) {
	node := nodeWithConfig(t, "s4", graph.KindSwitch, switchConfig{
		Rules: []switchRule{{ID: "approved", Mode: "fieldMatch", Condition: "decision.status", ValueMatch: "done"}},
	})
	deps := &Deps{DisableEdge: func(string) {}}
	in := Input{
		Node: node,
		Payloads: []graph.NodePayload{{JSON: map[string]interface{}{
			"decision": map[string]interface{}{"status": "done"},
		}}},
		OutEdges: []graph.Edge{{ID: "e1", SourceHandle: "approved"}},
	}
	payload, err := switchExecutor{}.Execute(withTimeout(t), in, deps)
	require.NoError(t, err)
	assert.Equal(t, "Flow routed to 1 branches", payload.Text)
}

func TestForEachExecutor_NoArrayHalts(t *testing.T) {
	node := nodeWithConfig(t, "f1", graph.KindForEach, forEachConfig{})
	disabled := map[string]bool{}
	deps := &Deps{DisableEdge: func(id string) { disabled[id] = true }}
	in := Input{
		Node:     node,
		Graph:    &graph.Graph{ID: "g", Nodes: []graph.Node{*node}},
		Payloads: []graph.NodePayload{{Text: "not an array"}},
		OutEdges: []graph.Edge{{ID: "e1"}},
	}
	payload, err := forEachExecutor{}.Execute(withTimeout(t), in, deps)
	require.NoError(t, err)
	assert.Equal(t, "Halted (No Array Found)", payload.Text)
	assert.True(t, disabled["e1"])
}

func TestForEachExecutor_SpawnsOneChildPerElement(t *testing.T) {
	node := nodeWithConfig(t, "f2", graph.KindForEach, forEachConfig{})
	var seen []string
	deps := &Deps{
		DisableEdge: func(string) {},
		RunSubgraph: func(_ context.Context, sub *graph.Graph, input string) error {
			seen = append(seen, input)
			return nil
		},
	}
	g := &graph.Graph{ID: "g", Nodes: []graph.Node{*node}}
	in := Input{
		Node:     node,
		Graph:    g,
		Payloads: []graph.NodePayload{{JSON: []interface{}{"a", "b", "c"}}},
		OutEdges: []graph.Edge{{ID: "e1"}},
	}
	payload, err := forEachExecutor{}.Execute(withTimeout(t), in, deps)
	require.NoError(t, err)
	assert.Equal(t, "Completed 3 parallel sub-executions.", payload.Text)
	assert.Len(t, seen, 3)
}

func TestStateExecutor_MergeAndAppend(t *testing.T) {
	store := NewStateStore()
	deps := &Deps{Store: store}

	mergeNode := nodeWithConfig(t, "st1", graph.KindState, stateConfig{Namespace: "ns", Mode: "merge"})
	_, err := stateExecutor{}.Execute(withTimeout(t), Input{
		Node:     mergeNode,
		Payloads: []graph.NodePayload{{JSON: map[string]interface{}{"a": 1}}},
	}, deps)
	require.NoError(t, err)
	_, err = stateExecutor{}.Execute(withTimeout(t), Input{
		Node:     mergeNode,
		Payloads: []graph.NodePayload{{JSON: map[string]interface{}{"b": 2}}},
	}, deps)
	require.NoError(t, err)

	v, ok := store.Get("ns")
	require.True(t, ok)
	m := v.(map[string]interface{})
	assert.Equal(t, 1, m["a"])
	assert.Equal(t, 2, m["b"])

	appendNode := nodeWithConfig(t, "st2", graph.KindState, stateConfig{Namespace: "list", Mode: "append"})
	_, _ = stateExecutor{}.Execute(withTimeout(t), Input{Node: appendNode, Payloads: []graph.NodePayload{{Text: "x"}}}, deps)
	_, _ = stateExecutor{}.Execute(withTimeout(t), Input{Node: appendNode, Payloads: []graph.NodePayload{{Text: "y"}}}, deps)
	listVal, ok := store.Get("list")
	require.True(t, ok)
	assert.Equal(t, []interface{}{"x", "y"}, listVal)
}

func TestOutputExecutor_ConcatenatesInEdgeTexts(t *testing.T) {
	node := nodeWithConfig(t, "o1", graph.KindOutput, struct{}{})
	payload, err := outputExecutor{}.Execute(withTimeout(t), Input{
		Node:     node,
		Payloads: []graph.NodePayload{{Text: "hello"}},
	}, &Deps{})
	require.NoError(t, err)
	assert.Equal(t, "hello", payload.Text)
}
