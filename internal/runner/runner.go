package runner

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arborflow/arborflow/internal/execpool"
	"github.com/arborflow/arborflow/internal/executor"
	"github.com/arborflow/arborflow/internal/gateway"
	"github.com/arborflow/arborflow/internal/graph"
)

const settleDelay = 500 * time.Millisecond
const cancelDrainTimeout = 120 * time.Second

// Metrics is the subset of prometheus.Collector a Runner can report
// against, duck-typed so internal/runner never imports the prometheus
// package directly.
type Metrics interface {
	RecordRunFinished(status string, duration time.Duration)
	RecordNodeExecuted(kind, status string, duration time.Duration)
	RecordDisabledEdge()
	RecordForeachFanout(n int)
}

type inFlightOp struct {
	sessionKey string
	chatRunID  string
}

type nodeRecord struct {
	payload graph.NodePayload
	status  string // "completed", "error", "aborted"
}

// Runner executes one Graph to completion, emitting RunEvents into
// sink as it goes (spec.md §4.4). A Runner spawned by ForEach shares
// its parent's gateway client and sink but owns its own node-output
// map, disabled-edge set and state store.
type Runner struct {
	graph       *graph.Graph
	gw          *gateway.Client
	sink        func(graph.RunEvent)
	runID       string
	globalInput string
	store       *executor.StateStore
	registry    map[graph.Kind]executor.Executor
	logger      *zap.Logger
	pool        *execpool.Pool
	nodeTimeout time.Duration
	metrics     Metrics
	startedAt   time.Time

	mu            sync.Mutex
	disabledEdges map[string]bool
	nodes         map[string]nodeRecord

	inFlightMu sync.Mutex
	inFlight   map[string]inFlightOp

	cancelled atomic.Bool
}

// New constructs a Runner. globalInput seeds every node that has no
// in-edges (spec.md §4.5, §9): it is treated as if a virtual upstream
// payload with that text fed the node.
func New(g *graph.Graph, gw *gateway.Client, sink func(graph.RunEvent), runID, globalInput string, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		graph:         g,
		gw:            gw,
		sink:          sink,
		runID:         runID,
		globalInput:   globalInput,
		store:         executor.NewStateStore(),
		registry:      executor.Registry(),
		logger:        logger,
		disabledEdges: make(map[string]bool),
		nodes:         make(map[string]nodeRecord),
		inFlight:      make(map[string]inFlightOp),
		startedAt:     time.Now(),
	}
}

// WithMetrics attaches a metrics sink, propagated to ForEach child runners.
func (r *Runner) WithMetrics(m Metrics) *Runner {
	r.metrics = m
	return r
}

// WithPool bounds this runner's node dispatch concurrency to pool's
// admission semaphore, shared across every runner (including ForEach
// child runners) that is given the same pool. Without a pool, a level
// dispatches all of its nodes at once.
func (r *Runner) WithPool(pool *execpool.Pool) *Runner {
	r.pool = pool
	return r
}

// WithNodeTimeout bounds each individual node dispatch to d, independent
// of the gateway's own chat timeout. Zero disables the ceiling.
func (r *Runner) WithNodeTimeout(d time.Duration) *Runner {
	r.nodeTimeout = d
	return r
}

// Run schedules and executes every level of the graph in turn. It
// returns an error only for catastrophic scheduling failures (a
// cycle); individual node failures are reported as nodeError events
// and do not fail the run as a whole (spec.md §4.4).
func (r *Runner) Run(ctx context.Context) error {
	lvls, err := levels(r.graph)
	if err != nil {
		r.emit(graph.RunEvent{Type: graph.EventRunError, Error: err.Error()})
		if r.metrics != nil {
			r.metrics.RecordRunFinished("error", time.Since(r.startedAt))
		}
		return err
	}

	settled := make(chan struct{})
	go func() {
		defer close(settled)
		timer := time.NewTimer(settleDelay)
		defer timer.Stop()
		select {
		case <-timer.C:
			r.emit(graph.RunEvent{Type: graph.EventRunStarted})
		case <-ctx.Done():
		}
	}()

	for _, level := range lvls {
		if r.cancelled.Load() {
			break
		}
		var wg sync.WaitGroup
		for _, nodeID := range level {
			wg.Add(1)
			go func(nodeID string) {
				defer wg.Done()
				if r.pool != nil {
					_ = r.pool.Submit(ctx, func(ctx context.Context) { r.dispatchNode(ctx, nodeID) })
					return
				}
				r.dispatchNode(ctx, nodeID)
			}(nodeID)
		}
		wg.Wait()
	}

	if r.cancelled.Load() {
		r.emit(graph.RunEvent{Type: graph.EventRunCancelled})
		if r.metrics != nil {
			r.metrics.RecordRunFinished("cancelled", time.Since(r.startedAt))
		}
		return nil
	}
	r.emit(graph.RunEvent{Type: graph.EventRunCompleted})
	if r.metrics != nil {
		r.metrics.RecordRunFinished("completed", time.Since(r.startedAt))
	}
	return nil
}

// Cancel marks the run cancelled (no further levels will be launched)
// and asks the gateway to abort every currently in-flight chat call.
// It does not wait for the run to observe the abort; Run's own loop
// will emit runCancelled once in-flight nodes return.
func (r *Runner) Cancel(ctx context.Context) {
	r.cancelled.Store(true)

	r.inFlightMu.Lock()
	ops := make([]inFlightOp, 0, len(r.inFlight))
	for _, op := range r.inFlight {
		ops = append(ops, op)
	}
	r.inFlightMu.Unlock()

	abortCtx, cancel := context.WithTimeout(ctx, cancelDrainTimeout)
	defer cancel()
	for _, op := range ops {
		if err := r.gw.ChatAbort(abortCtx, op.sessionKey, op.chatRunID); err != nil {
			r.logger.Warn("chat.abort failed during cancel", zap.String("sessionKey", op.sessionKey), zap.Error(err))
		}
	}
}

func (r *Runner) dispatchNode(ctx context.Context, nodeID string) {
	node, ok := r.graph.NodeByID(nodeID)
	if !ok {
		return
	}

	inEdges := r.graph.InEdges(nodeID)
	var enabled []graph.Edge
	for _, e := range inEdges {
		if !r.isEdgeDisabled(e.ID) {
			enabled = append(enabled, e)
		}
	}

	if len(inEdges) > 0 && len(enabled) == 0 {
		r.recordAborted(nodeID)
		r.emit(graph.RunEvent{Type: graph.EventNodeAborted, NodeID: nodeID})
		if r.metrics != nil {
			r.metrics.RecordNodeExecuted(string(node.Kind), "aborted", 0)
		}
		for _, e := range r.graph.OutEdges(nodeID) {
			r.disableEdge(e.ID)
		}
		return
	}

	payloads := make([]graph.NodePayload, 0, len(enabled))
	upstreamByLabel := make(map[string]graph.NodePayload)
	for _, e := range enabled {
		payload, ok := r.getOutput(e.Source)
		if !ok {
			continue // source node errored or aborted: treated as not completed
		}
		payloads = append(payloads, payload)
		if src, ok := r.graph.NodeByID(e.Source); ok && src.Label != "" {
			upstreamByLabel[src.Label] = payload
		}
	}
	if len(inEdges) == 0 && r.globalInput != "" {
		payloads = []graph.NodePayload{{Text: r.globalInput}}
	}

	r.emit(graph.RunEvent{Type: graph.EventNodeStarted, NodeID: nodeID, Data: &graph.NodePayload{Meta: map[string]interface{}{}}})

	exec, ok := r.registry[node.Kind]
	if !ok {
		err := fmt.Errorf("no executor registered for kind %q", node.Kind)
		r.recordError(nodeID)
		r.emit(graph.RunEvent{Type: graph.EventNodeError, NodeID: nodeID, Error: err.Error()})
		return
	}

	in := executor.Input{
		RunID:           r.runID,
		NodeID:          nodeID,
		Node:            node,
		Graph:           r.graph,
		Payloads:        payloads,
		UpstreamByLabel: upstreamByLabel,
		OutEdges:        r.graph.OutEdges(nodeID),
	}
	deps := &executor.Deps{
		Gateway:       r.gw,
		Store:         r.store,
		Emit:          func(ev graph.RunEvent) { r.emit(ev) },
		SetInFlight:   r.setInFlight,
		ClearInFlight: r.clearInFlight,
		DisableEdge:   r.disableEdge,
		RunSubgraph:   r.runSubgraph,
		Metrics:       r.metrics,
	}

	nodeCtx := ctx
	if r.nodeTimeout > 0 {
		var cancel context.CancelFunc
		nodeCtx, cancel = context.WithTimeout(ctx, r.nodeTimeout)
		defer cancel()
	}

	started := time.Now()
	payload, err := exec.Execute(nodeCtx, in, deps)
	if err != nil {
		err = &executor.NodeError{NodeID: nodeID, Kind: string(node.Kind), Err: err}
		r.recordError(nodeID)
		r.emit(graph.RunEvent{Type: graph.EventNodeError, NodeID: nodeID, Error: err.Error()})
		if r.metrics != nil {
			r.metrics.RecordNodeExecuted(string(node.Kind), "error", time.Since(started))
		}
		return
	}
	r.recordOutput(nodeID, payload)
	r.emit(graph.RunEvent{Type: graph.EventNodeFinal, NodeID: nodeID, Data: &payload})
	if r.metrics != nil {
		r.metrics.RecordNodeExecuted(string(node.Kind), "completed", time.Since(started))
	}
}

// runSubgraph implements executor.Deps.RunSubgraph for the ForEach
// node: a fresh Runner sharing this run's gateway client and sink,
// with its own state store and disabled-edge set.
func (r *Runner) runSubgraph(ctx context.Context, sub *graph.Graph, globalInput string) error {
	child := New(sub, r.gw, r.sink, uuid.NewString(), globalInput, r.logger).WithPool(r.pool).WithNodeTimeout(r.nodeTimeout).WithMetrics(r.metrics)
	return child.Run(ctx)
}

func (r *Runner) emit(ev graph.RunEvent) {
	if ev.RunID == "" {
		ev.RunID = r.runID
	}
	r.sink(ev)
}

func (r *Runner) isEdgeDisabled(edgeID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.disabledEdges[edgeID]
}

func (r *Runner) disableEdge(edgeID string) {
	r.mu.Lock()
	r.disabledEdges[edgeID] = true
	r.mu.Unlock()
	if r.metrics != nil {
		r.metrics.RecordDisabledEdge()
	}
}

func (r *Runner) getOutput(nodeID string) (graph.NodePayload, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.nodes[nodeID]
	if !ok || rec.status != "completed" {
		return graph.NodePayload{}, false
	}
	return rec.payload, true
}

func (r *Runner) recordOutput(nodeID string, payload graph.NodePayload) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes[nodeID] = nodeRecord{payload: payload, status: "completed"}
}

func (r *Runner) recordError(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes[nodeID] = nodeRecord{status: "error"}
}

func (r *Runner) recordAborted(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes[nodeID] = nodeRecord{payload: graph.NodePayload{Text: "Halted (Skipped)"}, status: "aborted"}
}

func (r *Runner) setInFlight(nodeID, sessionKey, chatRunID string) {
	r.inFlightMu.Lock()
	defer r.inFlightMu.Unlock()
	r.inFlight[nodeID] = inFlightOp{sessionKey: sessionKey, chatRunID: chatRunID}
}

func (r *Runner) clearInFlight(nodeID string) {
	r.inFlightMu.Lock()
	defer r.inFlightMu.Unlock()
	delete(r.inFlight, nodeID)
}
