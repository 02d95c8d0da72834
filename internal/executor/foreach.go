package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/arborflow/arborflow/internal/graph"
)

type forEachConfig struct {
	ArrayPath string `json:"arrayPath"`
}

// forEachExecutor spawns one child run per array element over the
// subgraph rooted at this node's successors (spec.md §4.3 ForEach).
type forEachExecutor struct{}

func (forEachExecutor) Execute(ctx context.Context, in Input, deps *Deps) (graph.NodePayload, error) {
	var cfg forEachConfig
	if err := in.Node.DecodeConfig(&cfg); err != nil {
		return graph.NodePayload{}, err
	}

	elements, ok := resolveArray(in.Payloads, cfg.ArrayPath)
	if !ok || len(elements) == 0 {
		for _, edge := range in.OutEdges {
			deps.DisableEdge(edge.ID)
		}
		return graph.NodePayload{Text: "Halted (No Array Found)", Meta: map[string]interface{}{}}, nil
	}

	for _, edge := range in.OutEdges {
		deps.DisableEdge(edge.ID)
	}

	subgraph := in.Graph.Subgraph(in.NodeID)

	if deps.Metrics != nil {
		deps.Metrics.RecordForeachFanout(len(elements))
	}

	var wg sync.WaitGroup
	errs := make([]error, len(elements))
	for i, elem := range elements {
		wg.Add(1)
		go func(i int, elem interface{}) {
			defer wg.Done()
			errs[i] = deps.RunSubgraph(ctx, subgraph, stringifyElement(elem))
		}(i, elem)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return graph.NodePayload{}, fmt.Errorf("foreach node %s: child run failed: %w", in.NodeID, err)
		}
	}

	return graph.NodePayload{
		Text: fmt.Sprintf("Completed %d parallel sub-executions.", len(elements)),
		Meta: map[string]interface{}{},
	}, nil
}

// resolveArray extracts the array to iterate: walking arrayPath if
// given, else the merged input's json directly, else attempting to
// parse the merged text as JSON.
func resolveArray(payloads []graph.NodePayload, arrayPath string) ([]interface{}, bool) {
	mergedJSON := firstJSON(payloads)

	var candidate interface{} = mergedJSON
	if arrayPath != "" {
		v, ok := walkJSONPath(mergedJSON, arrayPath)
		if !ok {
			return nil, false
		}
		candidate = v
	}

	if candidate == nil {
		var parsed interface{}
		if err := json.Unmarshal([]byte(concatTexts(payloads)), &parsed); err == nil {
			candidate = parsed
		}
	}

	arr, ok := candidate.([]interface{})
	if !ok {
		return nil, false
	}
	return arr, true
}

func stringifyElement(elem interface{}) string {
	if s, ok := elem.(string); ok {
		return s
	}
	data, err := json.Marshal(elem)
	if err != nil {
		return ""
	}
	return string(data)
}
