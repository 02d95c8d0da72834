package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/arborflow/arborflow/pkg/adapters/storage"
)

// Store implements storage.RunStore using Redis, with a TTL so
// records eventually expire rather than accumulating forever.
type Store struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration
}

// New creates a Redis-backed run store.
func New(client *redis.Client, ttl time.Duration, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{client: client, logger: logger, ttl: ttl}
}

func (s *Store) Save(ctx context.Context, rec *storage.RunRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal run record: %w", err)
	}
	if err := s.client.Set(ctx, runKey(rec.RunID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save run record: %w", err)
	}
	s.logger.Debug("run record saved", zap.String("runId", rec.RunID), zap.String("status", rec.Status))
	return nil
}

func (s *Store) Load(ctx context.Context, runID string) (*storage.RunRecord, error) {
	data, err := s.client.Get(ctx, runKey(runID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("run record not found: %s", runID)
		}
		return nil, fmt.Errorf("failed to get run record: %w", err)
	}
	var rec storage.RunRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run record: %w", err)
	}
	return &rec, nil
}

func (s *Store) Delete(ctx context.Context, runID string) error {
	if err := s.client.Del(ctx, runKey(runID)).Err(); err != nil {
		return fmt.Errorf("failed to delete run record: %w", err)
	}
	return nil
}

func (s *Store) List(ctx context.Context) ([]string, error) {
	const pattern = "arborflow:run:*"

	var cursor uint64
	var keys []string
	for {
		batch, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan keys: %w", err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}

	prefix := "arborflow:run:"
	ids := make([]string, 0, len(keys))
	for _, key := range keys {
		if len(key) > len(prefix) {
			ids = append(ids, key[len(prefix):])
		}
	}
	return ids, nil
}

func runKey(runID string) string {
	return fmt.Sprintf("arborflow:run:%s", runID)
}
