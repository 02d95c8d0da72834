package storage

import (
	"context"
	"time"

	"github.com/arborflow/arborflow/internal/graph"
)

// Mirror drains ch (as returned by registry.Subscribe) and keeps a
// RunRecord for runID up to date in store until ch closes or ctx is
// done. It is meant to be run in its own goroutine per started run.
func Mirror(ctx context.Context, store RunStore, runID string, ch <-chan graph.RunEvent) {
	rec := &RunRecord{RunID: runID, Status: "running", StartedAt: time.Now()}
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			rec.EventCount++
			evCopy := ev
			rec.LastEvent = &evCopy
			switch ev.Type {
			case graph.EventRunCompleted:
				rec.Status = "completed"
			case graph.EventRunError:
				rec.Status = "error"
			case graph.EventRunCancelled:
				rec.Status = "cancelled"
			}
			if rec.Status != "running" {
				now := time.Now()
				rec.CompletedAt = &now
			}
			_ = store.Save(ctx, rec)
		case <-ctx.Done():
			return
		}
	}
}
