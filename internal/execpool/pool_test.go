package execpool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_BoundsConcurrency(t *testing.T) {
	p := New(2, nil)

	var current atomic.Int64
	var maxSeen atomic.Int64
	ctx := context.Background()

	submit := func() {
		_ = p.Submit(ctx, func(context.Context) {
			n := current.Add(1)
			for {
				old := maxSeen.Load()
				if n <= old || maxSeen.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			current.Add(-1)
		})
	}

	done := make(chan struct{})
	for i := 0; i < 6; i++ {
		go func() { submit(); done <- struct{}{} }()
	}
	for i := 0; i < 6; i++ {
		<-done
	}

	assert.LessOrEqual(t, maxSeen.Load(), int64(2))
	assert.Equal(t, int64(0), current.Load())
}

func TestPool_SubmitRespectsContextCancellation(t *testing.T) {
	p := New(1, nil)
	ctx := context.Background()

	blockRelease := make(chan struct{})
	go func() {
		_ = p.Submit(ctx, func(context.Context) {
			<-blockRelease
		})
	}()
	time.Sleep(10 * time.Millisecond) // let the first Submit take the only slot

	cancelCtx, cancel := context.WithCancel(ctx)
	cancel()
	err := p.Submit(cancelCtx, func(context.Context) {})
	require.Error(t, err)

	close(blockRelease)
}

func TestHealthMonitor_ChecksProbe(t *testing.T) {
	p := New(3, nil)
	var probed atomic.Bool
	h := NewHealthMonitor(p, 5*time.Millisecond, func() bool {
		probed.Store(true)
		return true
	}, nil)
	h.Start()
	defer h.Stop()

	require.Eventually(t, func() bool { return probed.Load() }, time.Second, time.Millisecond)
	assert.True(t, h.IsHealthy())
}

type fakeMetrics struct {
	active, capacity atomic.Int64
}

func (m *fakeMetrics) SetExecPoolStatus(active, capacity int) {
	m.active.Store(int64(active))
	m.capacity.Store(int64(capacity))
}

func TestHealthMonitor_ReportsMetrics(t *testing.T) {
	p := New(4, nil).WithMetrics(&fakeMetrics{})
	m := p.metrics.(*fakeMetrics)
	h := NewHealthMonitor(p, 5*time.Millisecond, nil, nil)
	h.Start()
	defer h.Stop()

	require.Eventually(t, func() bool { return m.capacity.Load() == 4 }, time.Second, time.Millisecond)
}
