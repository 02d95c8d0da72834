package registry

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arborflow/arborflow/internal/graph"
	memstorage "github.com/arborflow/arborflow/pkg/adapters/storage/memory"
)

func mustConfig(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func passThroughGraph(t *testing.T) *graph.Graph {
	return &graph.Graph{
		ID: "g1",
		Nodes: []graph.Node{
			{ID: "in1", Kind: graph.KindInput, Config: mustConfig(t, map[string]string{"prompt": "hello"})},
			{ID: "out1", Kind: graph.KindOutput},
		},
		Edges: []graph.Edge{{ID: "e1", Source: "in1", Target: "out1"}},
	}
}

func TestRegistry_StartSubscribeReplaysAndCompletes(t *testing.T) {
	reg := New(nil, nil, nil)
	runID, err := reg.Start(passThroughGraph(t), "")
	require.NoError(t, err)

	// Give the run a moment to finish before subscribing, to exercise
	// the buffer-replay path rather than the live-forward path.
	time.Sleep(50 * time.Millisecond)

	ch, detach, err := reg.Subscribe(runID)
	require.NoError(t, err)
	defer detach()

	var sawCompleted bool
	var sawFinal bool
	timeout := time.After(2 * time.Second)
loop:
	for {
		select {
		case ev := <-ch:
			if ev.Type == graph.EventRunCompleted {
				sawCompleted = true
				break loop
			}
			if ev.Type == graph.EventNodeFinal && ev.NodeID == "out1" {
				sawFinal = true
			}
		case <-timeout:
			break loop
		}
	}
	assert.True(t, sawFinal)
	assert.True(t, sawCompleted)
}

func TestRegistry_SubscribeUnknownRunErrors(t *testing.T) {
	reg := New(nil, nil, nil)
	_, _, err := reg.Subscribe("does-not-exist")
	assert.Error(t, err)
}

func TestRegistry_CancelUnknownRunReturnsFalse(t *testing.T) {
	reg := New(nil, nil, nil)
	assert.False(t, reg.Cancel(nil, "does-not-exist")) //nolint:staticcheck
}

func TestRegistry_StartRejectsInvalidGraph(t *testing.T) {
	reg := New(nil, nil, nil)
	_, err := reg.Start(&graph.Graph{}, "")
	assert.Error(t, err)
}

func TestRegistry_MirrorsRunToAttachedStore(t *testing.T) {
	store := memstorage.New()
	reg := New(nil, nil, nil).WithRunStore(store)

	runID, err := reg.Start(passThroughGraph(t), "")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		rec, err := store.Load(context.Background(), runID)
		return err == nil && rec.Status == "completed"
	}, 2*time.Second, 10*time.Millisecond)
}
