package executor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/arborflow/arborflow/internal/gateway"
	"github.com/arborflow/arborflow/internal/graph"
)

type judgeConfig struct {
	Criteria  string `json:"criteria"`
	ModelID   string `json:"modelId"`
	PassScore int    `json:"passScore"`
}

// judgeExecutor asks the model to render a verdict as raw JSON
// matching graph.Decision (spec.md §4.3 Judge). PassScore is carried
// through only as config; it is not evaluated here (spec.md §9).
type judgeExecutor struct{}

func (judgeExecutor) Execute(ctx context.Context, in Input, deps *Deps) (graph.NodePayload, error) {
	var cfg judgeConfig
	if err := in.Node.DecodeConfig(&cfg); err != nil {
		return graph.NodePayload{}, err
	}

	prompt := fmt.Sprintf(
		"Evaluate the following input against these criteria:\n%s\n\n"+
			"Respond with raw JSON only, matching this shape: "+
			`{"status":"done|continue|needs_info|failed|human_review","score":0-100,"reasons":[...],"missing":[...],"nextActionHint":"...","recommendedBranch":"..."}`+
			"\n\n--- INPUT ---\n%s",
		cfg.Criteria, concatTexts(in.Payloads),
	)

	sessionKey := gateway.SessionKey("main", gateway.PurposeJudge, in.RunID, in.NodeID)
	raw, err := runChatCompletion(ctx, deps, in.NodeID, sessionKey, cfg.ModelID, prompt, false)
	if err != nil {
		return graph.NodePayload{}, err
	}

	cleaned := stripMarkdownFences(raw)
	var decision graph.Decision
	if err := json.Unmarshal([]byte(cleaned), &decision); err != nil {
		return graph.NodePayload{Text: raw, Meta: map[string]interface{}{}}, nil
	}

	return graph.NodePayload{Text: cleaned, JSON: decision, Meta: map[string]interface{}{"modelId": cfg.ModelID}}, nil
}
