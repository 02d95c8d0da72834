package executor

import (
	"context"
	"fmt"

	"github.com/arborflow/arborflow/internal/graph"
)

type stateConfig struct {
	Namespace string `json:"namespace"`
	Mode      string `json:"mode"`
}

// stateExecutor mutates the run-scoped keyed memory that Template
// reads via its state.<namespace> scope (spec.md §4.3 State).
type stateExecutor struct{}

func (stateExecutor) Execute(_ context.Context, in Input, deps *Deps) (graph.NodePayload, error) {
	var cfg stateConfig
	if err := in.Node.DecodeConfig(&cfg); err != nil {
		return graph.NodePayload{}, err
	}

	value := stateValue(in.Payloads)

	switch cfg.Mode {
	case "replace":
		deps.Store.Replace(cfg.Namespace, value)
	case "append":
		deps.Store.Append(cfg.Namespace, value)
	default: // "merge" and any unrecognized mode fall back to merge
		deps.Store.Merge(cfg.Namespace, value)
	}

	return graph.NodePayload{
		Text: fmt.Sprintf("State updated: %s", cfg.Namespace),
		JSON: value,
		Meta: map[string]interface{}{},
	}, nil
}

// stateValue prefers the merged json of the inputs, falling back to
// their concatenated text.
func stateValue(payloads []graph.NodePayload) interface{} {
	if j := firstJSON(payloads); j != nil {
		return j
	}
	return concatTexts(payloads)
}
