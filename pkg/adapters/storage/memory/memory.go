package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/arborflow/arborflow/pkg/adapters/storage"
)

// Store implements storage.RunStore using an in-memory map. Intended
// for tests and single-process deployments.
type Store struct {
	mu      sync.RWMutex
	records map[string]*storage.RunRecord
}

// New creates an in-memory run store.
func New() *Store {
	return &Store{records: make(map[string]*storage.RunRecord)}
}

func (s *Store) Save(ctx context.Context, rec *storage.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *rec
	s.records[rec.RunID] = &copied
	return nil
}

func (s *Store) Load(ctx context.Context, runID string) (*storage.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[runID]
	if !ok {
		return nil, fmt.Errorf("run record not found: %s", runID)
	}
	copied := *rec
	return &copied, nil
}

func (s *Store) Delete(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, runID)
	return nil
}

func (s *Store) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	return ids, nil
}
