package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arborflow/arborflow/internal/graph"
	"github.com/arborflow/arborflow/internal/gateway"
	"github.com/arborflow/arborflow/internal/gatewaytest"
)

func TestAgentExecutor_HappyPath(t *testing.T) {
	server := gatewaytest.NewServer()
	defer server.Close()

	sessionKey := gateway.SessionKey("researcher-1", gateway.PurposeClawdini, "run1", "a1")
	server.SetChatScript(sessionKey, gatewaytest.ChatScript{Deltas: []string{"He", "Hello", "Hello world"}})

	deps, rec := newTestDeps(t, server)
	node := nodeWithConfig(t, "a1", graph.KindAgent, agentConfig{AgentID: "researcher-1", Role: "researcher"})
	payload, err := agentExecutor{}.Execute(withTimeout(t), Input{
		RunID:    "run1",
		NodeID:   "a1",
		Node:     node,
		Payloads: []graph.NodePayload{{Text: "look into X"}},
	}, deps)
	require.NoError(t, err)
	assert.Equal(t, "Hello world", payload.Text)
	assert.Equal(t, "Hello world", rec.deltaText())
	assert.Equal(t, sessionKey, payload.Meta["sessionKey"])
}

func TestAgentExecutor_ErrorEventFailsNode(t *testing.T) {
	server := gatewaytest.NewServer()
	defer server.Close()
	sessionKey := gateway.SessionKey("a", gateway.PurposeClawdini, "run1", "a2")
	server.SetChatScript(sessionKey, gatewaytest.ChatScript{ErrorMessage: "model unavailable"})

	deps, _ := newTestDeps(t, server)
	node := nodeWithConfig(t, "a2", graph.KindAgent, agentConfig{AgentID: "a"})
	_, err := agentExecutor{}.Execute(withTimeout(t), Input{
		RunID: "run1", NodeID: "a2", Node: node,
	}, deps)
	assert.Error(t, err)
}
