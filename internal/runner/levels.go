package runner

import "github.com/arborflow/arborflow/internal/graph"

// GraphError reports a structural problem discovered at scheduling
// time: a cycle, or (defensively) a dangling reference levels()
// itself does not produce, since graph.Graph.Validate already rejects
// those (spec.md §7).
type GraphError struct {
	Msg string
}

func (e *GraphError) Error() string { return "graph error: " + e.Msg }

// levels computes the Kahn-style level decomposition of g: nodes with
// in-degree zero form level 0, removing them reveals level 1, and so
// on. Edges to nonexistent nodes are ignored. Any node left with
// positive in-degree once no more levels can be peeled indicates a
// cycle.
func levels(g *graph.Graph) ([][]string, error) {
	inDegree := make(map[string]int, len(g.Nodes))
	nodeIDs := make(map[string]bool, len(g.Nodes))
	for _, n := range g.Nodes {
		inDegree[n.ID] = 0
		nodeIDs[n.ID] = true
	}
	for _, e := range g.Edges {
		if !nodeIDs[e.Source] || !nodeIDs[e.Target] {
			continue
		}
		inDegree[e.Target]++
	}

	remaining := len(g.Nodes)
	var out [][]string
	for remaining > 0 {
		var level []string
		for id, deg := range inDegree {
			if deg == 0 {
				level = append(level, id)
			}
		}
		if len(level) == 0 {
			return nil, &GraphError{Msg: "cycle detected"}
		}
		out = append(out, level)
		for _, id := range level {
			delete(inDegree, id)
			remaining--
		}
		levelSet := make(map[string]bool, len(level))
		for _, id := range level {
			levelSet[id] = true
		}
		for _, e := range g.Edges {
			if !nodeIDs[e.Source] || !nodeIDs[e.Target] {
				continue
			}
			if !levelSet[e.Source] {
				continue
			}
			if _, stillHere := inDegree[e.Target]; stillHere {
				inDegree[e.Target]--
			}
		}
	}
	return out, nil
}

