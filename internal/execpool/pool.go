package execpool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Metrics is the subset of prometheus.Collector a Pool/HealthMonitor
// can report against, duck-typed so this package never imports the
// prometheus package directly.
type Metrics interface {
	SetExecPoolStatus(active, capacity int)
}

// Pool bounds how many node executions run concurrently across all
// runners that share it. Unlike a traditional worker pool it owns no
// goroutines of its own: Submit blocks the caller until a slot is
// free, runs fn on the caller's behalf, and frees the slot on return.
type Pool struct {
	size   int
	sem    chan struct{}
	active atomic.Int64

	logger  *zap.Logger
	health  *HealthMonitor
	metrics Metrics
}

// New creates a Pool admitting at most size concurrent Submit calls.
func New(size int, logger *zap.Logger) *Pool {
	if size < 1 {
		size = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pool{
		size:   size,
		sem:    make(chan struct{}, size),
		logger: logger,
	}
	return p
}

// WithMetrics attaches a metrics sink, sampled by the health monitor
// on every check.
func (p *Pool) WithMetrics(m Metrics) *Pool {
	p.metrics = m
	return p
}

// Status reports current admission counts.
type Status struct {
	Capacity int
	Active   int64
}

// GetStatus returns the pool's current admission counts.
func (p *Pool) GetStatus() Status {
	return Status{Capacity: p.size, Active: p.active.Load()}
}

// Submit runs fn once a slot is available, blocking until then or
// until ctx is cancelled. fn receives ctx so long-running work can
// observe cancellation.
func (p *Pool) Submit(ctx context.Context, fn func(ctx context.Context)) error {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	p.active.Add(1)
	defer func() {
		p.active.Add(-1)
		<-p.sem
	}()
	fn(ctx)
	return nil
}

// AttachHealthMonitor starts a background monitor that periodically
// checks probe() (typically the gateway's connection liveness) and
// logs pool saturation alongside it. Call the returned stop func on
// shutdown.
func (p *Pool) AttachHealthMonitor(interval time.Duration, probe func() bool) func() {
	h := NewHealthMonitor(p, interval, probe, p.logger)
	p.health = h
	h.Start()
	return h.Stop
}

// HealthMonitor periodically samples a Pool's saturation and an
// external liveness probe (the gateway connection), logging when
// either looks unhealthy.
type HealthMonitor struct {
	pool     *Pool
	interval time.Duration
	probe    func() bool
	logger   *zap.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

// NewHealthMonitor creates a health monitor for pool. probe reports
// whether the upstream dependency (the gateway connection) is alive;
// a nil probe is treated as always-healthy.
func NewHealthMonitor(pool *Pool, interval time.Duration, probe func() bool, logger *zap.Logger) *HealthMonitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if probe == nil {
		probe = func() bool { return true }
	}
	return &HealthMonitor{pool: pool, interval: interval, probe: probe, logger: logger, stopCh: make(chan struct{})}
}

// Start begins periodic health checks.
func (h *HealthMonitor) Start() {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return
	}
	h.running = true
	h.mu.Unlock()
	go h.run()
}

// Stop halts periodic health checks.
func (h *HealthMonitor) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	h.mu.Unlock()
	close(h.stopCh)
}

func (h *HealthMonitor) run() {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
			h.check()
		}
	}
}

func (h *HealthMonitor) check() {
	status := h.pool.GetStatus()
	gatewayAlive := h.probe()

	h.logger.Info("execpool health check",
		zap.Int("capacity", status.Capacity),
		zap.Int64("active", status.Active),
		zap.Bool("gatewayAlive", gatewayAlive))

	if !gatewayAlive {
		h.logger.Warn("gateway connection appears down")
	}
	if status.Active >= int64(status.Capacity) {
		h.logger.Warn("execpool fully saturated", zap.Int("capacity", status.Capacity))
	}
	if h.pool.metrics != nil {
		h.pool.metrics.SetExecPoolStatus(int(status.Active), status.Capacity)
	}
}

// IsHealthy reports whether the gateway probe currently succeeds.
func (h *HealthMonitor) IsHealthy() bool { return h.probe() }
