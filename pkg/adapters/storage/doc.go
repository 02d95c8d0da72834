// Package storage provides run-record persistence: a durable record
// of each run's terminal status that outlives the in-process
// registry's grace window, for status lookups from a different
// process or after a restart.
//
// Implementations:
//   - redis: Redis with JSON serialization and TTL
//   - memory: in-memory, for tests and single-process deployments
package storage

import (
	"context"
	"time"

	"github.com/arborflow/arborflow/internal/graph"
)

// RunRecord is the durable summary of one run.
type RunRecord struct {
	RunID       string          `json:"runId"`
	Status      string          `json:"status"` // "running", "completed", "error", "cancelled"
	StartedAt   time.Time       `json:"startedAt"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
	EventCount  int             `json:"eventCount"`
	LastEvent   *graph.RunEvent `json:"lastEvent,omitempty"`
}

// RunStore persists RunRecords.
type RunStore interface {
	Save(ctx context.Context, rec *RunRecord) error
	Load(ctx context.Context, runID string) (*RunRecord, error)
	Delete(ctx context.Context, runID string) error
	List(ctx context.Context) ([]string, error)
}
