package runner

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arborflow/arborflow/internal/gateway"
	"github.com/arborflow/arborflow/internal/gatewaytest"
	"github.com/arborflow/arborflow/internal/graph"
)

type eventCollector struct {
	mu     sync.Mutex
	events []graph.RunEvent
}

func (c *eventCollector) sink(ev graph.RunEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *eventCollector) all() []graph.RunEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]graph.RunEvent, len(c.events))
	copy(out, c.events)
	return out
}

func (c *eventCollector) countByType(t graph.EventType) int {
	n := 0
	for _, ev := range c.all() {
		if ev.Type == t {
			n++
		}
	}
	return n
}

func (c *eventCollector) findFinal(nodeID string) (graph.NodePayload, bool) {
	for _, ev := range c.all() {
		if ev.Type == graph.EventNodeFinal && ev.NodeID == nodeID && ev.Data != nil {
			return *ev.Data, true
		}
	}
	return graph.NodePayload{}, false
}

func mustConfig(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func TestRunner_PassThrough(t *testing.T) {
	g := &graph.Graph{
		ID: "g1",
		Nodes: []graph.Node{
			{ID: "in1", Kind: graph.KindInput, Config: mustConfig(t, map[string]string{"prompt": "hello"})},
			{ID: "out1", Kind: graph.KindOutput},
		},
		Edges: []graph.Edge{{ID: "e1", Source: "in1", Target: "out1"}},
	}
	coll := &eventCollector{}
	r := New(g, nil, coll.sink, "run1", "", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.Run(ctx))

	payload, ok := coll.findFinal("out1")
	require.True(t, ok)
	assert.Equal(t, "hello", payload.Text)
	assert.Equal(t, 1, coll.countByType(graph.EventRunCompleted))
}

func TestRunner_FanInConcat(t *testing.T) {
	g := &graph.Graph{
		ID: "g2",
		Nodes: []graph.Node{
			{ID: "a", Kind: graph.KindInput, Config: mustConfig(t, map[string]string{"prompt": "A"})},
			{ID: "b", Kind: graph.KindInput, Config: mustConfig(t, map[string]string{"prompt": "B"})},
			{ID: "merge", Kind: graph.KindMerge, Config: mustConfig(t, map[string]string{"mode": "concat"})},
			{ID: "out", Kind: graph.KindOutput},
		},
		Edges: []graph.Edge{
			{ID: "e1", Source: "a", Target: "merge"},
			{ID: "e2", Source: "b", Target: "merge"},
			{ID: "e3", Source: "merge", Target: "out"},
		},
	}
	coll := &eventCollector{}
	r := New(g, nil, coll.sink, "run2", "", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.Run(ctx))

	payload, ok := coll.findFinal("out")
	require.True(t, ok)
	assert.Equal(t, "=== Source 1 ===\nA\n\n=== Source 2 ===\nB\n", payload.Text)
}

func TestRunner_SwitchHaltCascades(t *testing.T) {
	g := &graph.Graph{
		ID: "g3",
		Nodes: []graph.Node{
			{ID: "in1", Kind: graph.KindInput, Config: mustConfig(t, map[string]string{"prompt": "error: boom"})},
			{ID: "sw", Kind: graph.KindSwitch, Config: mustConfig(t, map[string]interface{}{
				"rules": []map[string]string{{"id": "r1", "mode": "regex", "condition": ".*success.*"}},
			})},
			{ID: "out", Kind: graph.KindOutput},
		},
		Edges: []graph.Edge{
			{ID: "e1", Source: "in1", Target: "sw"},
			{ID: "e2", Source: "sw", Target: "out", SourceHandle: "r1"},
		},
	}
	coll := &eventCollector{}
	r := New(g, nil, coll.sink, "run3", "", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.Run(ctx))

	payload, ok := coll.findFinal("sw")
	require.True(t, ok)
	assert.Equal(t, "Halted (No conditions matched)", payload.Text)

	found := false
	for _, ev := range coll.all() {
		if ev.Type == graph.EventNodeAborted && ev.NodeID == "out" {
			found = true
		}
	}
	assert.True(t, found, "expected Output to be aborted")
	assert.Equal(t, 1, coll.countByType(graph.EventRunCompleted))
}

func newTestClient(t *testing.T, server *gatewaytest.Server) *gateway.Client {
	t.Helper()
	client, err := gateway.NewClient(context.Background(), gateway.Config{
		URL:          server.URL(),
		ClientID:     "runner-test",
		IdentityPath: filepath.Join(t.TempDir(), "device.json"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRunner_ForEachFanOut(t *testing.T) {
	server := gatewaytest.NewServer()
	defer server.Close()
	server.SetChatScript("", gatewaytest.ChatScript{Deltas: []string{"echoed"}})

	g := &graph.Graph{
		ID: "g5",
		Nodes: []graph.Node{
			{ID: "fe", Kind: graph.KindForEach, Config: mustConfig(t, map[string]string{"arrayPath": ""})},
			{ID: "agent", Kind: graph.KindAgent, Config: mustConfig(t, map[string]string{"agentId": "echo"})},
			{ID: "out", Kind: graph.KindOutput},
		},
		Edges: []graph.Edge{
			{ID: "e1", Source: "fe", Target: "agent"},
			{ID: "e2", Source: "agent", Target: "out"},
		},
	}
	client := newTestClient(t, server)
	coll := &eventCollector{}
	r := New(g, client, coll.sink, "run5", `[{"x":1},{"x":2},{"x":3}]`, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.Run(ctx))

	payload, ok := coll.findFinal("fe")
	require.True(t, ok)
	assert.Equal(t, "Completed 3 parallel sub-executions.", payload.Text)
	assert.Equal(t, 3, coll.countByType(graph.EventRunCompleted))

	abortedParentAgent := false
	for _, ev := range coll.all() {
		if ev.Type == graph.EventNodeAborted && ev.NodeID == "agent" && ev.RunID == "run5" {
			abortedParentAgent = true
		}
	}
	assert.True(t, abortedParentAgent, "parent's own agent node should be aborted since ForEach disabled its out-edge")
}

func TestRunner_Cancellation(t *testing.T) {
	server := gatewaytest.NewServer()
	defer server.Close()
	sessionKey := gateway.SessionKey("slow", gateway.PurposeClawdini, "run6", "agent")
	server.SetChatScript(sessionKey, gatewaytest.ChatScript{}) // never resolves on its own

	g := &graph.Graph{
		ID: "g6",
		Nodes: []graph.Node{
			{ID: "agent", Kind: graph.KindAgent, Config: mustConfig(t, map[string]string{"agentId": "slow"})},
		},
	}
	client := newTestClient(t, server)
	coll := &eventCollector{}
	r := New(g, client, coll.sink, "run6", "go", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	time.Sleep(200 * time.Millisecond)
	r.Cancel(ctx)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not observe cancellation in time")
	}

	assert.Equal(t, 1, coll.countByType(graph.EventRunCancelled))
	assert.Equal(t, 0, coll.countByType(graph.EventRunCompleted))
	_, ok := coll.findFinal("agent")
	assert.False(t, ok, "cancelled node must not report nodeFinal")
}
