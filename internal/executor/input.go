package executor

import (
	"context"

	"github.com/arborflow/arborflow/internal/graph"
)

type inputConfig struct {
	Prompt string `json:"prompt"`
}

// inputExecutor seeds a run with a literal prompt string. It never
// touches the gateway.
type inputExecutor struct{}

func (inputExecutor) Execute(_ context.Context, in Input, _ *Deps) (graph.NodePayload, error) {
	var cfg inputConfig
	if err := in.Node.DecodeConfig(&cfg); err != nil {
		return graph.NodePayload{}, err
	}
	return graph.NodePayload{Text: cfg.Prompt, Meta: map[string]interface{}{}}, nil
}
