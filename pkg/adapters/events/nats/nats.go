// Package nats mirrors run events over NATS core pub/sub, the
// lightest-weight of the three EventBus backends: no consumer groups,
// no replay, just fan-out to whoever is subscribed right now.
package nats

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/arborflow/arborflow/internal/graph"
	"github.com/arborflow/arborflow/pkg/adapters/events"
)

// Bus implements events.EventBus using a NATS connection.
type Bus struct {
	conn    *nats.Conn
	logger  *zap.Logger
	subject string
}

// New creates a NATS-backed event bus. subject is a prefix; each run
// publishes to "<subject>.<runID>".
func New(conn *nats.Conn, subject string, logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{conn: conn, logger: logger, subject: subject}
}

func (b *Bus) Publish(ctx context.Context, runID string, ev graph.RunEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := b.conn.Publish(b.subjectFor(runID), data); err != nil {
		return fmt.Errorf("failed to publish to nats: %w", err)
	}
	return nil
}

func (b *Bus) Subscribe(ctx context.Context, runID string, handler events.Handler) error {
	sub, err := b.conn.Subscribe(b.subjectFor(runID), func(msg *nats.Msg) {
		var ev graph.RunEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			b.logger.Error("failed to unmarshal nats message", zap.Error(err))
			return
		}
		if err := handler(ctx, runID, ev); err != nil {
			b.logger.Error("handler error", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to nats: %w", err)
	}

	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
	}()
	return nil
}

func (b *Bus) Close() error {
	b.conn.Close()
	return nil
}

func (b *Bus) subjectFor(runID string) string {
	return fmt.Sprintf("%s.%s", b.subject, runID)
}
