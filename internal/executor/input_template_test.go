package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arborflow/arborflow/internal/graph"
)

func TestInputExecutor_EmitsConfiguredPrompt(t *testing.T) {
	node := nodeWithConfig(t, "n1", graph.KindInput, inputConfig{Prompt: "hello"})
	payload, err := inputExecutor{}.Execute(withTimeout(t), Input{Node: node}, &Deps{})
	require.NoError(t, err)
	assert.Equal(t, "hello", payload.Text)
}

func TestTemplateExecutor_SubstitutesUpstreamLabelAndState(t *testing.T) {
	node := nodeWithConfig(t, "n2", graph.KindTemplate, templateConfig{
		Template: "Hello {{researcher.text}}, count={{state.counters.n}}",
		Format:   "text",
	})
	store := NewStateStore()
	store.Replace("counters", map[string]interface{}{"n": float64(3)})

	in := Input{
		Node: node,
		UpstreamByLabel: map[string]graph.NodePayload{
			"researcher": {Text: "world"},
		},
	}
	payload, err := templateExecutor{}.Execute(withTimeout(t), in, &Deps{Store: store})
	require.NoError(t, err)
	assert.Equal(t, "Hello world, count=3", payload.Text)
}

func TestTemplateExecutor_UnresolvedRefRendersEmpty(t *testing.T) {
	node := nodeWithConfig(t, "n3", graph.KindTemplate, templateConfig{Template: "[{{missing.text}}]"})
	payload, err := templateExecutor{}.Execute(withTimeout(t), Input{Node: node}, &Deps{Store: NewStateStore()})
	require.NoError(t, err)
	assert.Equal(t, "[]", payload.Text)
}

func TestTemplateExecutor_JSONFormatParsesRenderedOutput(t *testing.T) {
	node := nodeWithConfig(t, "n4", graph.KindTemplate, templateConfig{
		Template: `{"name":"{{researcher.text}}"}`,
		Format:   "json",
	})
	in := Input{
		Node:            node,
		UpstreamByLabel: map[string]graph.NodePayload{"researcher": {Text: "alice"}},
	}
	payload, err := templateExecutor{}.Execute(withTimeout(t), in, &Deps{Store: NewStateStore()})
	require.NoError(t, err)
	m, ok := payload.JSON.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "alice", m["name"])
}

func TestTemplateExecutor_JSONFormatFailureIsFatal(t *testing.T) {
	node := nodeWithConfig(t, "n5", graph.KindTemplate, templateConfig{
		Template: "not json",
		Format:   "json",
	})
	_, err := templateExecutor{}.Execute(withTimeout(t), Input{Node: node}, &Deps{Store: NewStateStore()})
	assert.Error(t, err)
}
