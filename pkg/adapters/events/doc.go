// Package events defines the EventBus port used to mirror run events
// out of a single process: a horizontally-scaled HTTP tier can
// subscribe to a run started on a different instance by relaying
// through the bus instead of the in-process registry.
//
// Implementations:
//   - memory: in-process, for tests and single-instance deployments
//   - redis: Redis Streams with consumer groups
//   - nats: NATS core pub/sub
package events

import (
	"context"

	"github.com/arborflow/arborflow/internal/graph"
)

// Handler processes one mirrored run event.
type Handler func(ctx context.Context, runID string, ev graph.RunEvent) error

// EventBus publishes and subscribes to a run's mirrored event stream.
// topic is the run ID.
type EventBus interface {
	Publish(ctx context.Context, runID string, ev graph.RunEvent) error
	Subscribe(ctx context.Context, runID string, handler Handler) error
	Close() error
}
