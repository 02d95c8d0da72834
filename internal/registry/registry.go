package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arborflow/arborflow/internal/execpool"
	"github.com/arborflow/arborflow/internal/gateway"
	"github.com/arborflow/arborflow/internal/graph"
	"github.com/arborflow/arborflow/internal/runner"
	"github.com/arborflow/arborflow/pkg/adapters/events"
	"github.com/arborflow/arborflow/pkg/adapters/storage"
)

const (
	eventBufferBound = 500
	graceWindow      = 10 * time.Second
	subscriberChanCap = eventBufferBound + 128
)

type run struct {
	mu          sync.Mutex
	buffer      []graph.RunEvent
	subscribers map[uint64]chan graph.RunEvent
	subSeq      uint64
	terminated  bool
	cancelFn    func(ctx context.Context)
}

// Registry mints run IDs, launches runners asynchronously, and
// multiplexes their event streams to subscribers (spec.md §4.5).
type Registry struct {
	gw     *gateway.Client
	logger *zap.Logger
	pool   *execpool.Pool

	// graphTimeout bounds each run's total wall-clock time regardless
	// of gateway behavior; nodeTimeout bounds each individual node
	// dispatch. Zero disables the corresponding ceiling.
	graphTimeout time.Duration
	nodeTimeout  time.Duration
	metrics      runner.Metrics
	runStore     storage.RunStore
	eventBus     events.EventBus

	mu   sync.Mutex
	runs map[string]*run
}

// New constructs a Registry. pool, if non-nil, bounds the concurrent
// node dispatch of every run started by this registry (and of any
// ForEach subgraphs they spawn); a nil pool leaves dispatch unbounded.
func New(gw *gateway.Client, logger *zap.Logger, pool *execpool.Pool) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{gw: gw, logger: logger, pool: pool, runs: make(map[string]*run)}
}

// WithTimeouts sets the graph- and node-level wall-clock ceilings
// applied to every run this registry starts. Zero leaves a ceiling
// disabled.
func (reg *Registry) WithTimeouts(graphTimeout, nodeTimeout time.Duration) *Registry {
	reg.graphTimeout = graphTimeout
	reg.nodeTimeout = nodeTimeout
	return reg
}

// WithMetrics attaches a metrics sink, applied to every run this
// registry starts (and propagated to their ForEach child runners).
func (reg *Registry) WithMetrics(m runner.Metrics) *Registry {
	reg.metrics = m
	return reg
}

// WithRunStore attaches a durable run-record store: every run this
// registry starts gets its own storage.Mirror goroutine keeping a
// RunRecord up to date for lookups that outlive the in-memory grace
// window (or come from a different process).
func (reg *Registry) WithRunStore(store storage.RunStore) *Registry {
	reg.runStore = store
	return reg
}

// WithEventBus attaches an external EventBus: every published event is
// also forwarded to it, so a subscriber on a different process or
// instance can see the run's events (the in-memory subscriber map
// above only serves subscribers attached to this process).
func (reg *Registry) WithEventBus(bus events.EventBus) *Registry {
	reg.eventBus = bus
	return reg
}

// Start validates graph, mints a run ID, and launches its runner in
// the background. It returns immediately with the run ID.
func (reg *Registry) Start(g *graph.Graph, input string) (string, error) {
	if err := g.Validate(); err != nil {
		return "", fmt.Errorf("invalid graph: %w", err)
	}

	runID := uuid.NewString()
	r := &run{subscribers: make(map[uint64]chan graph.RunEvent)}

	reg.mu.Lock()
	reg.runs[runID] = r
	reg.mu.Unlock()

	rn := runner.New(g, reg.gw, func(ev graph.RunEvent) { reg.publish(runID, ev) }, runID, input, reg.logger).
		WithPool(reg.pool).
		WithNodeTimeout(reg.nodeTimeout).
		WithMetrics(reg.metrics)
	r.cancelFn = rn.Cancel

	if reg.runStore != nil {
		if mirrorCh, detach, err := reg.Subscribe(runID); err == nil {
			go func() {
				defer detach()
				storage.Mirror(context.Background(), reg.runStore, runID, mirrorCh)
			}()
		}
	}

	go func() {
		// The run outlives the caller's HTTP/RPC request; it is driven
		// to completion on a background context, bounded by the
		// configured graph execution ceiling if any.
		runCtx := context.Background()
		if reg.graphTimeout > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(runCtx, reg.graphTimeout)
			defer cancel()
		}
		if err := rn.Run(runCtx); err != nil {
			reg.logger.Error("run terminated with a scheduling error", zap.String("runId", runID), zap.Error(err))
		}
		reg.terminate(runID)
	}()

	return runID, nil
}

// Subscribe attaches to runID's event stream: the returned channel
// first receives every buffered event, then live events as they
// arrive. Call the returned cancel func to detach.
func (reg *Registry) Subscribe(runID string) (<-chan graph.RunEvent, func(), error) {
	reg.mu.Lock()
	r, ok := reg.runs[runID]
	reg.mu.Unlock()
	if !ok {
		return nil, nil, fmt.Errorf("unknown or expired run: %s", runID)
	}

	r.mu.Lock()
	ch := make(chan graph.RunEvent, subscriberChanCap)
	for _, ev := range r.buffer {
		ch <- ev // capacity always exceeds len(buffer); never blocks
	}
	id := r.subSeq
	r.subSeq++
	r.subscribers[id] = ch
	r.mu.Unlock()

	detach := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if _, ok := r.subscribers[id]; ok {
			delete(r.subscribers, id)
			close(ch)
		}
	}
	return ch, detach, nil
}

// Cancel requests cooperative cancellation of runID. It returns false
// if the run is unknown (already expired past its grace window, or
// never existed).
func (reg *Registry) Cancel(ctx context.Context, runID string) bool {
	reg.mu.Lock()
	r, ok := reg.runs[runID]
	reg.mu.Unlock()
	if !ok {
		return false
	}
	r.cancelFn(ctx)
	return true
}

func (reg *Registry) publish(runID string, ev graph.RunEvent) {
	reg.mu.Lock()
	r, ok := reg.runs[runID]
	reg.mu.Unlock()
	if !ok {
		return
	}

	if reg.eventBus != nil {
		if err := reg.eventBus.Publish(context.Background(), runID, ev); err != nil {
			reg.logger.Warn("external event bus publish failed", zap.String("runId", runID), zap.Error(err))
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.buffer = append(r.buffer, ev)
	if len(r.buffer) > eventBufferBound {
		r.buffer = r.buffer[len(r.buffer)-eventBufferBound:]
	}
	for _, ch := range r.subscribers {
		select {
		case ch <- ev:
		default:
			reg.logger.Warn("subscriber channel full, dropping live event", zap.String("runId", runID))
		}
	}
}

// terminate marks runID's run as finished and schedules its removal
// after the grace window, closing any subscriber channels still open
// at that point.
func (reg *Registry) terminate(runID string) {
	reg.mu.Lock()
	r, ok := reg.runs[runID]
	reg.mu.Unlock()
	if !ok {
		return
	}

	r.mu.Lock()
	r.terminated = true
	r.mu.Unlock()

	time.AfterFunc(graceWindow, func() {
		reg.mu.Lock()
		delete(reg.runs, runID)
		reg.mu.Unlock()

		r.mu.Lock()
		defer r.mu.Unlock()
		for id, ch := range r.subscribers {
			delete(r.subscribers, id)
			close(ch)
		}
	})
}
