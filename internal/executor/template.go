package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/arborflow/arborflow/internal/graph"
)

type templateConfig struct {
	Template string `json:"template"`
	Format   string `json:"format"`
}

var templateRefPattern = regexp.MustCompile(`\{\{([a-zA-Z0-9_]+(?:\.[a-zA-Z0-9_]+)*)\}\}`)

// templateExecutor substitutes {{name.path}} references against a
// scope built from upstream node labels and the state namespace. It
// implements only this single directive form deliberately: spec.md §9
// warns against inferring undocumented template syntax.
type templateExecutor struct{}

func (templateExecutor) Execute(_ context.Context, in Input, deps *Deps) (graph.NodePayload, error) {
	var cfg templateConfig
	if err := in.Node.DecodeConfig(&cfg); err != nil {
		return graph.NodePayload{}, err
	}

	scope := make(map[string]interface{}, len(in.UpstreamByLabel)+1)
	for label, payload := range in.UpstreamByLabel {
		scope[label] = map[string]interface{}{"text": payload.Text, "json": payload.JSON}
	}
	if deps.Store != nil {
		scope["state"] = deps.Store.Snapshot()
	}

	var renderErr error
	rendered := templateRefPattern.ReplaceAllStringFunc(cfg.Template, func(match string) string {
		ref := templateRefPattern.FindStringSubmatch(match)[1]
		value, ok := resolveTemplateRef(scope, ref)
		if !ok {
			return ""
		}
		return stringifyTemplateValue(value)
	})
	if renderErr != nil {
		return graph.NodePayload{}, renderErr
	}

	payload := graph.NodePayload{Text: rendered, Meta: map[string]interface{}{}}
	if cfg.Format == "json" {
		var parsed interface{}
		if err := json.Unmarshal([]byte(rendered), &parsed); err != nil {
			return graph.NodePayload{}, fmt.Errorf("template node %s: rendered output is not valid json: %w", in.NodeID, err)
		}
		payload.JSON = parsed
	}
	return payload, nil
}

func resolveTemplateRef(scope map[string]interface{}, ref string) (interface{}, bool) {
	parts := strings.Split(ref, ".")
	var cur interface{} = scope
	for _, part := range parts {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func stringifyTemplateValue(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}
