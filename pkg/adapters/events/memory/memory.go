package memory

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/arborflow/arborflow/internal/graph"
	"github.com/arborflow/arborflow/pkg/adapters/events"
)

// Bus implements events.EventBus with in-process handler fan-out.
// Intended for tests and single-instance deployments.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]map[uint64]events.Handler
	subSeq      atomic.Uint64
}

// New creates an in-memory event bus.
func New() *Bus {
	return &Bus{subscribers: make(map[string]map[uint64]events.Handler)}
}

func (b *Bus) Publish(ctx context.Context, runID string, ev graph.RunEvent) error {
	b.mu.RLock()
	handlers := make([]events.Handler, 0, len(b.subscribers[runID]))
	for _, h := range b.subscribers[runID] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		go func(h events.Handler) {
			_ = h(ctx, runID, ev)
		}(h)
	}
	return nil
}

// Subscribe registers handler under a fresh token, the same pattern
// internal/gateway.Client uses for its On/Off subscriptions (func
// values aren't comparable, so a token is the only way to identify a
// registration for later removal).
func (b *Bus) Subscribe(ctx context.Context, runID string, handler events.Handler) error {
	token := b.subSeq.Add(1)

	b.mu.Lock()
	if b.subscribers[runID] == nil {
		b.subscribers[runID] = make(map[uint64]events.Handler)
	}
	b.subscribers[runID][token] = handler
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.unsubscribe(runID, token)
	}()
	return nil
}

func (b *Bus) unsubscribe(runID string, token uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers[runID], token)
	if len(b.subscribers[runID]) == 0 {
		delete(b.subscribers, runID)
	}
}

func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = make(map[string]map[uint64]events.Handler)
	return nil
}
