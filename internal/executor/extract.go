package executor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/arborflow/arborflow/internal/gateway"
	"github.com/arborflow/arborflow/internal/graph"
)

type extractConfig struct {
	Schema  string `json:"schema"`
	ModelID string `json:"modelId"`
}

// extractExecutor asks the model to emit only JSON matching a given
// schema description (spec.md §4.3 Extract).
type extractExecutor struct{}

func (extractExecutor) Execute(ctx context.Context, in Input, deps *Deps) (graph.NodePayload, error) {
	var cfg extractConfig
	if err := in.Node.DecodeConfig(&cfg); err != nil {
		return graph.NodePayload{}, err
	}

	prompt := fmt.Sprintf(
		"Extract structured data matching this schema:\n%s\n\nRespond with JSON only, no prose.\n\n--- INPUT ---\n%s",
		cfg.Schema, concatTexts(in.Payloads),
	)

	sessionKey := gateway.SessionKey("main", gateway.PurposeExtract, in.RunID, in.NodeID)
	raw, err := runChatCompletion(ctx, deps, in.NodeID, sessionKey, cfg.ModelID, prompt, false)
	if err != nil {
		return graph.NodePayload{}, err
	}

	cleaned := stripMarkdownFences(raw)
	var parsed interface{}
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		return graph.NodePayload{Text: raw, Meta: map[string]interface{}{}}, nil
	}

	return graph.NodePayload{
		Text: "Successfully extracted JSON data.",
		JSON: parsed,
		Meta: map[string]interface{}{"modelId": cfg.ModelID},
	}, nil
}
