package graph

import (
	"encoding/json"
	"fmt"
)

// Kind discriminates the eleven node executor strategies.
type Kind string

const (
	KindInput    Kind = "input"
	KindTemplate Kind = "template"
	KindAgent    Kind = "agent"
	KindMerge    Kind = "merge"
	KindJudge    Kind = "judge"
	KindSwitch   Kind = "switch"
	KindExtract  Kind = "extract"
	KindInvoke   Kind = "invoke"
	KindForEach  Kind = "foreach"
	KindState    Kind = "state"
	KindOutput   Kind = "output"
)

var validKinds = map[Kind]bool{
	KindInput: true, KindTemplate: true, KindAgent: true, KindMerge: true,
	KindJudge: true, KindSwitch: true, KindExtract: true, KindInvoke: true,
	KindForEach: true, KindState: true, KindOutput: true,
}

// Node is a graph-unique unit of computation. Config carries the
// kind-specific settings described in spec.md §4.3; executors decode
// it into their own typed struct via DecodeConfig.
type Node struct {
	ID     string          `json:"id"`
	Label  string          `json:"label,omitempty"`
	Kind   Kind            `json:"kind"`
	Config json.RawMessage `json:"config,omitempty"`
}

// DecodeConfig unmarshals the node's raw config into v.
func (n *Node) DecodeConfig(v interface{}) error {
	if len(n.Config) == 0 {
		return nil
	}
	if err := json.Unmarshal(n.Config, v); err != nil {
		return fmt.Errorf("decode config for node %s: %w", n.ID, err)
	}
	return nil
}

func (n *Node) Validate() error {
	if n.ID == "" {
		return fmt.Errorf("node ID is required")
	}
	if !validKinds[n.Kind] {
		return fmt.Errorf("node %s: unknown kind %q", n.ID, n.Kind)
	}
	return nil
}

// Edge is a directed dependency between two nodes. SourceHandle names
// the output port used by the switch node to route conditionally.
type Edge struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"sourceHandle,omitempty"`
}

func (e *Edge) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("edge ID is required")
	}
	if e.Source == "" || e.Target == "" {
		return fmt.Errorf("edge %s: source and target are required", e.ID)
	}
	return nil
}

// Graph is an immutable, opaque-ID-identified DAG of nodes and edges.
// Once submitted for execution the runner holds only a read-only
// reference to it.
type Graph struct {
	ID    string `json:"id"`
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// NodeByID returns the node with the given ID, or false if absent.
func (g *Graph) NodeByID(id string) (*Node, bool) {
	for i := range g.Nodes {
		if g.Nodes[i].ID == id {
			return &g.Nodes[i], true
		}
	}
	return nil, false
}

// InEdges returns edges whose target is nodeID.
func (g *Graph) InEdges(nodeID string) []Edge {
	var out []Edge
	for _, e := range g.Edges {
		if e.Target == nodeID {
			out = append(out, e)
		}
	}
	return out
}

// OutEdges returns edges whose source is nodeID.
func (g *Graph) OutEdges(nodeID string) []Edge {
	var out []Edge
	for _, e := range g.Edges {
		if e.Source == nodeID {
			out = append(out, e)
		}
	}
	return out
}

// Validate checks structural integrity: every edge references an
// existing node, node IDs are unique, and edge IDs are unique.
// Acyclicity is checked separately during scheduling (internal/runner)
// since it requires the level-peeling algorithm anyway.
func (g *Graph) Validate() error {
	if g.ID == "" {
		return fmt.Errorf("graph ID is required")
	}
	if len(g.Nodes) == 0 {
		return fmt.Errorf("graph must have at least one node")
	}

	seen := make(map[string]bool, len(g.Nodes))
	for i := range g.Nodes {
		n := &g.Nodes[i]
		if err := n.Validate(); err != nil {
			return err
		}
		if seen[n.ID] {
			return fmt.Errorf("duplicate node ID: %s", n.ID)
		}
		seen[n.ID] = true
	}

	edgeIDs := make(map[string]bool, len(g.Edges))
	for _, e := range g.Edges {
		if err := e.Validate(); err != nil {
			return err
		}
		if edgeIDs[e.ID] {
			return fmt.Errorf("duplicate edge ID: %s", e.ID)
		}
		edgeIDs[e.ID] = true
		if _, ok := seen[e.Source]; !ok {
			return fmt.Errorf("edge %s references non-existent source node: %s", e.ID, e.Source)
		}
		if _, ok := seen[e.Target]; !ok {
			return fmt.Errorf("edge %s references non-existent target node: %s", e.ID, e.Target)
		}
	}

	return nil
}

// Subgraph returns the graph induced by the strict successors of
// rootID: every node reachable from rootID by following out-edges
// (excluding rootID itself), and every edge with both endpoints in
// that set. Used by the ForEach executor (spec.md §4.3, §9).
func (g *Graph) Subgraph(rootID string) *Graph {
	successors := make(map[string]bool)
	queue := []string{rootID}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, e := range g.OutEdges(cur) {
			if !successors[e.Target] {
				successors[e.Target] = true
				queue = append(queue, e.Target)
			}
		}
	}

	sub := &Graph{ID: g.ID + "/" + rootID}
	for i := range g.Nodes {
		if successors[g.Nodes[i].ID] {
			sub.Nodes = append(sub.Nodes, g.Nodes[i])
		}
	}
	for _, e := range g.Edges {
		if successors[e.Source] && successors[e.Target] {
			sub.Edges = append(sub.Edges, e)
		}
	}
	return sub
}
