package executor

import (
	"context"
	"fmt"
	"strings"

	"github.com/arborflow/arborflow/internal/gateway"
	"github.com/arborflow/arborflow/internal/graph"
)

type mergeConfig struct {
	Mode    string `json:"mode"`
	ModelID string `json:"modelId"`
	Prompt  string `json:"prompt"`
}

const defaultSynthesisPrompt = "Synthesize the following sources into a single coherent result.\n\n{INPUTS}"
const consensusPrompt = "Produce meeting-minutes style consensus notes summarizing points of agreement and disagreement across the following sources.\n\n{INPUTS}"

// mergeExecutor combines the payloads of every non-disabled in-edge
// (spec.md §4.3 Merge).
type mergeExecutor struct{}

func (mergeExecutor) Execute(ctx context.Context, in Input, deps *Deps) (graph.NodePayload, error) {
	var cfg mergeConfig
	if err := in.Node.DecodeConfig(&cfg); err != nil {
		return graph.NodePayload{}, err
	}

	switch cfg.Mode {
	case "concat":
		return graph.NodePayload{Text: concatSources(in.Payloads), Meta: map[string]interface{}{}}, nil
	case "consensus":
		return mergeViaLLM(ctx, in, deps, cfg, consensusPrompt)
	default: // "llm" and any unrecognized mode fall back to llm behavior
		return mergeViaLLM(ctx, in, deps, cfg, defaultSynthesisPrompt)
	}
}

func concatSources(payloads []graph.NodePayload) string {
	parts := make([]string, len(payloads))
	for i, p := range payloads {
		parts[i] = fmt.Sprintf("=== Source %d ===\n%s\n", i+1, p.Text)
	}
	return strings.Join(parts, "\n")
}

func mergeViaLLM(ctx context.Context, in Input, deps *Deps, cfg mergeConfig, fallbackPrompt string) (graph.NodePayload, error) {
	switch len(in.Payloads) {
	case 0:
		return graph.NodePayload{Text: "", Meta: map[string]interface{}{}}, nil
	case 1:
		return in.Payloads[0], nil
	}

	prompt := cfg.Prompt
	if prompt == "" {
		prompt = fallbackPrompt
	}
	prompt = replaceInputsToken(prompt, concatSources(in.Payloads))

	sessionKey := gateway.SessionKey("main", gateway.PurposeMerge, in.RunID, in.NodeID)
	text, err := runChatCompletion(ctx, deps, in.NodeID, sessionKey, cfg.ModelID, prompt, true)
	if err != nil {
		return graph.NodePayload{}, err
	}
	return graph.NodePayload{Text: text, Meta: map[string]interface{}{"modelId": cfg.ModelID, "sessionKey": sessionKey}}, nil
}

// replaceInputsToken replaces {INPUTS} case-insensitively.
func replaceInputsToken(prompt, inputsBlock string) string {
	lower := strings.ToLower(prompt)
	idx := strings.Index(lower, "{inputs}")
	if idx == -1 {
		return prompt
	}
	return prompt[:idx] + inputsBlock + prompt[idx+len("{inputs}"):]
}
