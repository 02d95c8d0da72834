package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arborflow/arborflow/internal/graph"
	"github.com/arborflow/arborflow/internal/gatewaytest"
)

func TestInvokeExecutor_StructuredTemplateBecomesParams(t *testing.T) {
	server := gatewaytest.NewServer()
	defer server.Close()
	server.SetInvokeResponse("tools.search", map[string]interface{}{"hits": 3})

	deps, _ := newTestDeps(t, server)
	node := nodeWithConfig(t, "i1", graph.KindInvoke, invokeConfig{
		CommandName:     "tools.search",
		PayloadTemplate: `{"query":"{INPUT}"}`,
	})
	payload, err := invokeExecutor{}.Execute(withTimeout(t), Input{
		Node:     node,
		Payloads: []graph.NodePayload{{Text: "weather in paris"}},
	}, deps)
	require.NoError(t, err)
	m, ok := payload.JSON.(map[string]interface{})
	require.True(t, ok)
	assert.EqualValues(t, 3, m["hits"])
}

func TestInvokeExecutor_NonJSONTemplateFallsBackToRawPayload(t *testing.T) {
	server := gatewaytest.NewServer()
	defer server.Close()
	server.SetInvokeResponse("tools.echo", "ok")

	deps, _ := newTestDeps(t, server)
	node := nodeWithConfig(t, "i2", graph.KindInvoke, invokeConfig{
		CommandName:     "tools.echo",
		PayloadTemplate: "not a json template at all",
	})
	payload, err := invokeExecutor{}.Execute(withTimeout(t), Input{
		Node:     node,
		Payloads: []graph.NodePayload{{Text: "hi"}},
	}, deps)
	require.NoError(t, err)
	assert.Equal(t, `"ok"`, payload.Text)
}
