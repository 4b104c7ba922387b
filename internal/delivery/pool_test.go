package delivery

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolBoundsConcurrency(t *testing.T) {
	p := NewPool(3, zerolog.Nop())
	p.Start(context.Background())
	defer p.Stop()

	var running, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		require.NoError(t, p.Submit(func(ctx context.Context) {
			defer wg.Done()
			n := atomic.AddInt32(&running, 1)
			for {
				old := atomic.LoadInt32(&peak)
				if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&running, -1)
		}))
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(3))
	assert.Equal(t, 0, p.QueueDepth())
}

func TestPoolSubmitDoesNotBlockWhenSaturated(t *testing.T) {
	p := NewPool(1, zerolog.Nop())
	p.Start(context.Background())

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, p.Submit(func(ctx context.Context) {
		close(started)
		<-release
	}))
	<-started

	submitted := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			_ = p.Submit(func(ctx context.Context) {})
		}
		close(submitted)
	}()

	select {
	case <-submitted:
	case <-time.After(time.Second):
		t.Fatal("Submit blocked on a saturated pool")
	}
	assert.Equal(t, 5, p.QueueDepth())

	close(release)
	p.Stop()
}

func TestPoolStop(t *testing.T) {
	var depth atomic.Int64
	p := NewPool(1, zerolog.Nop(), WithQueueDepthHook(func(n int) { depth.Store(int64(n)) }))
	p.Start(context.Background())

	release := make(chan struct{})
	started := make(chan struct{})
	finished := make(chan struct{})
	require.NoError(t, p.Submit(func(ctx context.Context) {
		close(started)
		<-release
		assert.NoError(t, ctx.Err(), "running task keeps its context during stop")
		close(finished)
	}))
	<-started

	var ranQueued atomic.Bool
	require.NoError(t, p.Submit(func(ctx context.Context) { ranQueued.Store(true) }))

	stopped := make(chan struct{})
	go func() {
		p.Stop()
		close(stopped)
	}()

	time.Sleep(20 * time.Millisecond)
	close(release)
	<-finished
	<-stopped

	assert.False(t, ranQueued.Load(), "queued task is discarded")
	assert.Equal(t, int64(0), depth.Load())
	assert.True(t, errors.Is(p.Submit(func(context.Context) {}), ErrPoolClosed))
}

func TestPoolSurvivesPanickingTask(t *testing.T) {
	p := NewPool(1, zerolog.Nop())
	p.Start(context.Background())
	defer p.Stop()

	require.NoError(t, p.Submit(func(ctx context.Context) { panic("boom") }))

	done := make(chan struct{})
	require.NoError(t, p.Submit(func(ctx context.Context) { close(done) }))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker died after panic")
	}
}

func TestPoolContextCancelStopsWorkers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := NewPool(2, zerolog.Nop())
	p.Start(ctx)

	cancel()
	require.Eventually(t, func() bool {
		return errors.Is(p.Submit(func(context.Context) {}), ErrPoolClosed)
	}, time.Second, 5*time.Millisecond)
	p.Stop()
}

func TestPoolQueueDepthHookSeesLatestDepth(t *testing.T) {
	var depth atomic.Int64
	p := NewPool(1, zerolog.Nop(), WithQueueDepthHook(func(n int) { depth.Store(int64(n)) }))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, p.Submit(func(context.Context) {}))
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(50), depth.Load())
	assert.Equal(t, 50, p.QueueDepth())

	p.Start(context.Background())
	require.Eventually(t, func() bool { return p.QueueDepth() == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(0), depth.Load())
	p.Stop()
}
