package executor

import (
	"context"

	"github.com/arborflow/arborflow/internal/gateway"
	"github.com/arborflow/arborflow/internal/graph"
)

type agentConfig struct {
	AgentID string `json:"agentId"`
	ModelID string `json:"modelId"`
	Role    string `json:"role"`
}

var rolePrompts = map[string]string{
	"planner":    "You are the planner. Break the input down into a concrete, ordered plan.",
	"critic":     "You are the critic. Identify weaknesses, gaps and risks in the input.",
	"researcher": "You are the researcher. Gather and synthesize relevant facts about the input.",
	"operator":   "You are the operator. Carry out the requested action described in the input.",
}

// agentExecutor drives a full turn against one gateway agent session
// (spec.md §4.3 Agent).
type agentExecutor struct{}

func (agentExecutor) Execute(ctx context.Context, in Input, deps *Deps) (graph.NodePayload, error) {
	var cfg agentConfig
	if err := in.Node.DecodeConfig(&cfg); err != nil {
		return graph.NodePayload{}, err
	}

	message := concatTexts(in.Payloads)
	if prompt, ok := rolePrompts[cfg.Role]; ok {
		message = prompt + "\n--- INPUT ---\n" + message
	}

	sessionKey := gateway.SessionKey(cfg.AgentID, gateway.PurposeClawdini, in.RunID, in.NodeID)

	fullText, err := runChatCompletion(ctx, deps, in.NodeID, sessionKey, cfg.ModelID, message, false)
	if err != nil {
		return graph.NodePayload{}, err
	}

	return graph.NodePayload{
		Text: fullText,
		Meta: map[string]interface{}{
			"agentId":    cfg.AgentID,
			"modelId":    cfg.ModelID,
			"sessionKey": sessionKey,
		},
	}, nil
}
