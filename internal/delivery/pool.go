package delivery

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
)

var ErrPoolClosed = errors.New("worker pool closed")

// Task is one unit of work run by the pool.
type Task func(ctx context.Context)

// Pool runs submitted tasks on a fixed number of workers. Submit never
// blocks: when every worker is busy, tasks wait in a FIFO queue.
type Pool struct {
	workers int
	log     zerolog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []Task
	closed  bool
	onDepth func(int)

	ctx    context.Context
	cancel context.CancelFunc
	wg     conc.WaitGroup
}

type PoolOption func(*Pool)

// WithQueueDepthHook is called with the queue length after every change.
// It runs under the pool lock, so it must not block or call into the pool.
func WithQueueDepthHook(fn func(int)) PoolOption {
	return func(p *Pool) {
		p.onDepth = fn
	}
}

func NewPool(workers int, log zerolog.Logger, opts ...PoolOption) *Pool {
	if workers <= 0 {
		workers = 1
	}
	p := &Pool{
		workers: workers,
		log:     log,
		onDepth: func(int) {},
	}
	p.cond = sync.NewCond(&p.mu)
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the workers. Tasks receive a context that is cancelled
// when ctx is done or the pool is stopped.
func (p *Pool) Start(ctx context.Context) {
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.log.Info().Int("workers", p.workers).Msg("starting delivery worker pool")

	for i := 0; i < p.workers; i++ {
		p.wg.Go(p.work)
	}
	context.AfterFunc(p.ctx, p.shutdown)
}

// Stop discards queued tasks and waits for running ones to return. Running
// tasks keep their context until they finish.
func (p *Pool) Stop() {
	p.log.Info().Msg("stopping delivery worker pool")
	p.shutdown()
	p.wg.Wait()
	if p.cancel != nil {
		p.cancel()
	}
	p.log.Info().Msg("delivery worker pool stopped")
}

func (p *Pool) Submit(task Task) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	p.queue = append(p.queue, task)
	p.onDepth(len(p.queue))
	p.mu.Unlock()

	p.cond.Signal()
	return nil
}

// QueueDepth returns the number of tasks waiting for a worker.
func (p *Pool) QueueDepth() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

func (p *Pool) shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	dropped := len(p.queue)
	p.queue = nil
	p.onDepth(0)
	p.mu.Unlock()

	if dropped > 0 {
		p.log.Warn().Int("dropped", dropped).Msg("discarded queued tasks on shutdown")
	}
	p.cond.Broadcast()
}

func (p *Pool) next() (Task, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.queue) == 0 && !p.closed {
		p.cond.Wait()
	}
	if p.closed {
		return nil, false
	}
	task := p.queue[0]
	p.queue[0] = nil
	p.queue = p.queue[1:]
	p.onDepth(len(p.queue))
	return task, true
}

func (p *Pool) work() {
	for {
		task, ok := p.next()
		if !ok {
			return
		}
		var pc panics.Catcher
		pc.Try(func() { task(p.ctx) })
		if r := pc.Recovered(); r != nil {
			p.log.Error().Err(r.AsError()).Msg("delivery task panicked")
		}
	}
}
