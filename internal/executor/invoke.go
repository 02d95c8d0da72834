package executor

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/arborflow/arborflow/internal/graph"
)

type invokeConfig struct {
	CommandName     string `json:"commandName"`
	PayloadTemplate string `json:"payloadTemplate"`
}

// invokeExecutor calls an arbitrary gateway RPC method, substituting
// upstream text into a JSON payload template (spec.md §4.3 Invoke).
type invokeExecutor struct{}

func (invokeExecutor) Execute(ctx context.Context, in Input, deps *Deps) (graph.NodePayload, error) {
	var cfg invokeConfig
	if err := in.Node.DecodeConfig(&cfg); err != nil {
		return graph.NodePayload{}, err
	}

	upstream := concatTexts(in.Payloads)
	rendered := strings.ReplaceAll(cfg.PayloadTemplate, "{INPUT}", jsonEscapeString(upstream))

	var params interface{}
	if err := json.Unmarshal([]byte(rendered), &params); err != nil {
		params = map[string]interface{}{"payload": upstream}
	}

	result, err := deps.Gateway.Request(ctx, cfg.CommandName, params)
	if err != nil {
		return graph.NodePayload{}, err
	}

	var parsed interface{}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return graph.NodePayload{Text: string(result), Meta: map[string]interface{}{}}, nil
	}
	encoded, err := json.Marshal(parsed)
	if err != nil {
		return graph.NodePayload{}, err
	}
	return graph.NodePayload{Text: string(encoded), JSON: parsed, Meta: map[string]interface{}{}}, nil
}

// jsonEscapeString escapes backslashes, quotes and newlines so raw
// upstream text can be dropped into a JSON string literal in a
// payload template.
func jsonEscapeString(s string) string {
	encoded, err := json.Marshal(s)
	if err != nil {
		return s
	}
	// json.Marshal wraps in quotes; strip them, the template supplies its own.
	return strings.TrimSuffix(strings.TrimPrefix(string(encoded), `"`), `"`)
}
