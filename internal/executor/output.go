package executor

import (
	"context"
	"strings"

	"github.com/arborflow/arborflow/internal/graph"
)

// outputExecutor collects and concatenates the text of every
// completed in-edge (spec.md §4.3 Output).
type outputExecutor struct{}

func (outputExecutor) Execute(_ context.Context, in Input, _ *Deps) (graph.NodePayload, error) {
	texts := make([]string, len(in.Payloads))
	for i, p := range in.Payloads {
		texts[i] = p.Text
	}
	return graph.NodePayload{Text: strings.Join(texts, ""), Meta: map[string]interface{}{}}, nil
}
