package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arborflow/arborflow/internal/graph"
	"github.com/arborflow/arborflow/internal/gatewaytest"
)

func TestJudgeExecutor_ParsesDecisionJSON(t *testing.T) {
	server := gatewaytest.NewServer()
	defer server.Close()
	server.SetChatScript("", gatewaytest.ChatScript{Deltas: []string{
		`{"status":"done","score":90,"reasons":["looks good"],"missing":[],"nextActionHint":"","recommendedBranch":""}`,
	}})

	deps, _ := newTestDeps(t, server)
	node := nodeWithConfig(t, "j1", graph.KindJudge, judgeConfig{Criteria: "must be correct"})
	payload, err := judgeExecutor{}.Execute(withTimeout(t), Input{
		RunID: "run1", NodeID: "j1", Node: node,
		Payloads: []graph.NodePayload{{Text: "the work"}},
	}, deps)
	require.NoError(t, err)
	decision, ok := payload.JSON.(graph.Decision)
	require.True(t, ok)
	assert.Equal(t, graph.DecisionDone, decision.Status)
	assert.Equal(t, 90, decision.Score)
}

func TestJudgeExecutor_StripsMarkdownFence(t *testing.T) {
	server := gatewaytest.NewServer()
	defer server.Close()
	server.SetChatScript("", gatewaytest.ChatScript{Deltas: []string{
		"```json\n{\"status\":\"continue\",\"score\":10,\"reasons\":[],\"missing\":[],\"nextActionHint\":\"\",\"recommendedBranch\":\"\"}\n```",
	}})

	deps, _ := newTestDeps(t, server)
	node := nodeWithConfig(t, "j2", graph.KindJudge, judgeConfig{Criteria: "x"})
	payload, err := judgeExecutor{}.Execute(withTimeout(t), Input{RunID: "run1", NodeID: "j2", Node: node}, deps)
	require.NoError(t, err)
	decision, ok := payload.JSON.(graph.Decision)
	require.True(t, ok)
	assert.Equal(t, graph.DecisionContinue, decision.Status)
}

func TestJudgeExecutor_UnparsableOutputIsNotFatal(t *testing.T) {
	server := gatewaytest.NewServer()
	defer server.Close()
	server.SetChatScript("", gatewaytest.ChatScript{Deltas: []string{"not json at all"}})

	deps, _ := newTestDeps(t, server)
	node := nodeWithConfig(t, "j3", graph.KindJudge, judgeConfig{Criteria: "x"})
	payload, err := judgeExecutor{}.Execute(withTimeout(t), Input{RunID: "run1", NodeID: "j3", Node: node}, deps)
	require.NoError(t, err)
	assert.Equal(t, "not json at all", payload.Text)
	assert.Nil(t, payload.JSON)
}

func TestExtractExecutor_ParsesJSON(t *testing.T) {
	server := gatewaytest.NewServer()
	defer server.Close()
	server.SetChatScript("", gatewaytest.ChatScript{Deltas: []string{`{"name":"alice","age":30}`}})

	deps, _ := newTestDeps(t, server)
	node := nodeWithConfig(t, "e1", graph.KindExtract, extractConfig{Schema: "{name, age}"})
	payload, err := extractExecutor{}.Execute(withTimeout(t), Input{RunID: "run1", NodeID: "e1", Node: node}, deps)
	require.NoError(t, err)
	assert.Equal(t, "Successfully extracted JSON data.", payload.Text)
	m, ok := payload.JSON.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "alice", m["name"])
}

func TestExtractExecutor_ParseFailureKeepsRawText(t *testing.T) {
	server := gatewaytest.NewServer()
	defer server.Close()
	server.SetChatScript("", gatewaytest.ChatScript{Deltas: []string{"I could not extract that"}})

	deps, _ := newTestDeps(t, server)
	node := nodeWithConfig(t, "e2", graph.KindExtract, extractConfig{Schema: "{x}"})
	payload, err := extractExecutor{}.Execute(withTimeout(t), Input{RunID: "run1", NodeID: "e2", Node: node}, deps)
	require.NoError(t, err)
	assert.Equal(t, "I could not extract that", payload.Text)
	assert.Nil(t, payload.JSON)
}
