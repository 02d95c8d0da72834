package executor

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arborflow/arborflow/internal/gateway"
	"github.com/arborflow/arborflow/internal/gatewaytest"
	"github.com/arborflow/arborflow/internal/graph"
)

// newTestDeps dials a fake gateway server and returns Deps wired to it
// plus a recorder of every emitted RunEvent, for node executors that
// talk to the gateway (agent, merge, judge, extract, invoke).
func newTestDeps(t *testing.T, server *gatewaytest.Server) (*Deps, *eventRecorder) {
	t.Helper()

	identityPath := filepath.Join(t.TempDir(), "device.json")
	client, err := gateway.NewClient(context.Background(), gateway.Config{
		URL:          server.URL(),
		ClientID:     "test-client",
		IdentityPath: identityPath,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	rec := &eventRecorder{}
	deps := &Deps{
		Gateway:       client,
		Store:         NewStateStore(),
		Emit:          rec.record,
		SetInFlight:   func(string, string, string) {},
		ClearInFlight: func(string) {},
		DisableEdge:   func(string) {},
	}
	return deps, rec
}

type eventRecorder struct {
	events []graph.RunEvent
}

func (r *eventRecorder) record(ev graph.RunEvent) {
	r.events = append(r.events, ev)
}

func (r *eventRecorder) deltaText() string {
	var out string
	for _, ev := range r.events {
		if ev.Type == graph.EventNodeDelta && ev.Data != nil {
			out += ev.Data.Text
		}
	}
	return out
}

func nodeWithConfig(t *testing.T, id string, kind graph.Kind, cfg interface{}) *graph.Node {
	t.Helper()
	raw, err := json.Marshal(cfg)
	require.NoError(t, err)
	return &graph.Node{ID: id, Kind: kind, Config: raw}
}

func withTimeout(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}
