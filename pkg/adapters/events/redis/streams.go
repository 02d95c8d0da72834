package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/arborflow/arborflow/internal/graph"
	"github.com/arborflow/arborflow/pkg/adapters/events"
)

// Bus implements events.EventBus using Redis Streams with consumer
// groups, so a mirrored run survives a subscriber restart.
type Bus struct {
	client        *redis.Client
	logger        *zap.Logger
	consumerGroup string
	consumerName  string
}

// New creates a Redis Streams event bus.
func New(client *redis.Client, consumerGroup, consumerName string, logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{client: client, logger: logger, consumerGroup: consumerGroup, consumerName: consumerName}
}

func (b *Bus) Publish(ctx context.Context, runID string, ev graph.RunEvent) error {
	streamKey := streamKey(runID)

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: streamKey,
		Values: map[string]interface{}{"data": string(data)},
	}
	if _, err := b.client.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("failed to add to stream: %w", err)
	}

	b.logger.Debug("run event published", zap.String("runId", runID), zap.String("type", string(ev.Type)), zap.String("stream", streamKey))
	return nil
}

func (b *Bus) Subscribe(ctx context.Context, runID string, handler events.Handler) error {
	streamKey := streamKey(runID)

	err := b.client.XGroupCreateMkStream(ctx, streamKey, b.consumerGroup, "0").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	b.logger.Info("subscribed to run event stream", zap.String("stream", streamKey), zap.String("consumerGroup", b.consumerGroup))
	go b.readStream(ctx, runID, streamKey, handler)
	return nil
}

func (b *Bus) readStream(ctx context.Context, runID, streamKey string, handler events.Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			streams, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
				Group:    b.consumerGroup,
				Consumer: b.consumerName,
				Streams:  []string{streamKey, ">"},
				Count:    10,
				Block:    time.Second,
			}).Result()
			if err != nil {
				if err == redis.Nil {
					continue
				}
				b.logger.Error("failed to read from stream", zap.String("stream", streamKey), zap.Error(err))
				time.Sleep(time.Second)
				continue
			}
			for _, stream := range streams {
				for _, message := range stream.Messages {
					b.processMessage(ctx, runID, streamKey, message, handler)
				}
			}
		}
	}
}

func (b *Bus) processMessage(ctx context.Context, runID, streamKey string, message redis.XMessage, handler events.Handler) {
	data, ok := message.Values["data"].(string)
	if !ok {
		b.logger.Error("invalid message format", zap.String("stream", streamKey), zap.String("messageId", message.ID))
		return
	}

	var ev graph.RunEvent
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		b.logger.Error("failed to unmarshal event", zap.String("stream", streamKey), zap.Error(err))
		return
	}

	if err := handler(ctx, runID, ev); err != nil {
		b.logger.Error("handler error", zap.String("stream", streamKey), zap.Error(err))
		return
	}

	if err := b.client.XAck(ctx, streamKey, b.consumerGroup, message.ID).Err(); err != nil {
		b.logger.Error("failed to acknowledge message", zap.String("stream", streamKey), zap.Error(err))
	}
}

func (b *Bus) Close() error { return nil }

func streamKey(runID string) string {
	return fmt.Sprintf("arborflow:events:%s", runID)
}
