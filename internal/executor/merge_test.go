package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arborflow/arborflow/internal/graph"
	"github.com/arborflow/arborflow/internal/gatewaytest"
)

func TestMergeExecutor_ConcatMode(t *testing.T) {
	node := nodeWithConfig(t, "m1", graph.KindMerge, mergeConfig{Mode: "concat"})
	payload, err := mergeExecutor{}.Execute(withTimeout(t), Input{
		Node:     node,
		Payloads: []graph.NodePayload{{Text: "A"}, {Text: "B"}},
	}, &Deps{})
	require.NoError(t, err)
	assert.Equal(t, "=== Source 1 ===\nA\n\n=== Source 2 ===\nB\n", payload.Text)
}

func TestMergeExecutor_LLMModeZeroInputsIsEmpty(t *testing.T) {
	node := nodeWithConfig(t, "m2", graph.KindMerge, mergeConfig{Mode: "llm"})
	payload, err := mergeExecutor{}.Execute(withTimeout(t), Input{Node: node}, &Deps{})
	require.NoError(t, err)
	assert.Equal(t, "", payload.Text)
}

func TestMergeExecutor_LLMModeOneInputPassesThrough(t *testing.T) {
	node := nodeWithConfig(t, "m3", graph.KindMerge, mergeConfig{Mode: "llm"})
	payload, err := mergeExecutor{}.Execute(withTimeout(t), Input{
		Node:     node,
		Payloads: []graph.NodePayload{{Text: "only one"}},
	}, &Deps{})
	require.NoError(t, err)
	assert.Equal(t, "only one", payload.Text)
}

func TestMergeExecutor_LLMModeTwoInputsCallsGateway(t *testing.T) {
	server := gatewaytest.NewServer()
	defer server.Close()
	server.SetChatScript("", gatewaytest.ChatScript{Deltas: []string{"synthesized"}})

	deps, rec := newTestDeps(t, server)
	node := nodeWithConfig(t, "m4", graph.KindMerge, mergeConfig{Mode: "llm"})
	payload, err := mergeExecutor{}.Execute(withTimeout(t), Input{
		RunID:    "run1",
		NodeID:   "m4",
		Node:     node,
		Payloads: []graph.NodePayload{{Text: "A"}, {Text: "B"}},
	}, deps)
	require.NoError(t, err)
	assert.Equal(t, "synthesized", payload.Text)
	assert.Equal(t, "synthesized", rec.deltaText())
}
