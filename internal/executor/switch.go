package executor

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/arborflow/arborflow/internal/graph"
)

type switchRule struct {
	ID         string `json:"id"`
	Mode       string `json:"mode"`
	Condition  string `json:"condition"`
	ValueMatch string `json:"valueMatch"`
}

type switchConfig struct {
	Rules []switchRule `json:"rules"`
}

// switchExecutor routes flow by disabling out-edges whose handle did
// not match any rule (spec.md §4.3 Switch).
type switchExecutor struct{}

func (switchExecutor) Execute(_ context.Context, in Input, deps *Deps) (graph.NodePayload, error) {
	var cfg switchConfig
	if err := in.Node.DecodeConfig(&cfg); err != nil {
		return graph.NodePayload{}, err
	}

	mergedText := concatTexts(in.Payloads)
	mergedJSON := firstJSON(in.Payloads)

	matching := make(map[string]bool)
	for _, rule := range cfg.Rules {
		if evaluateSwitchRule(rule, mergedText, mergedJSON) {
			matching[rule.ID] = true
		}
	}

	enabled := 0
	for _, edge := range in.OutEdges {
		if !matching[edge.SourceHandle] {
			deps.DisableEdge(edge.ID)
		} else {
			enabled++
		}
	}

	if len(matching) == 0 {
		for _, edge := range in.OutEdges {
			deps.DisableEdge(edge.ID)
		}
		return graph.NodePayload{Text: "Halted (No conditions matched)", Meta: map[string]interface{}{}}, nil
	}

	return graph.NodePayload{Text: fmt.Sprintf("Flow routed to %d branches", enabled), Meta: map[string]interface{}{}}, nil
}

func evaluateSwitchRule(rule switchRule, mergedText string, mergedJSON interface{}) bool {
	switch rule.Mode {
	case "regex":
		re, err := regexp.Compile(rule.Condition)
		if err != nil {
			return false
		}
		return re.MatchString(mergedText)
	case "fieldMatch":
		value, ok := walkJSONPath(mergedJSON, rule.Condition)
		if !ok {
			return false
		}
		return stringifyTemplateValue(value) == rule.ValueMatch
	default:
		return false
	}
}

// walkJSONPath navigates a dotted path through nested maps.
func walkJSONPath(v interface{}, path string) (interface{}, bool) {
	if path == "" {
		return v, true
	}
	cur := v
	for _, part := range strings.Split(path, ".") {
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
