package consumer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/topichub/delivery-engine/internal/domain"
)

// Pool is a bounded worker pool with non-blocking submission and delayed
// scheduling. Pending counts tasks queued, timer-held, or executing; the
// overload governor reads it as an approximate backpressure signal.
type Pool struct {
	tasks   chan func()
	pending atomic.Int64
	stopped atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	logger  *zap.Logger

	mu     sync.Mutex
	timers map[*time.Timer]struct{}
}

// NewPool starts workers goroutines draining a queue of the given capacity.
func NewPool(workers, queueSize int, logger *zap.Logger) *Pool {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		tasks:  make(chan func(), queueSize),
		cancel: cancel,
		logger: logger,
		timers: make(map[*time.Timer]struct{}),
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.run(ctx)
	}
	return p
}

func (p *Pool) run(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-p.tasks:
			fn()
			p.pending.Add(-1)
		}
	}
}

// Submit enqueues a task without blocking. Returns domain.ErrPoolSaturated
// when the queue is full and domain.ErrPoolStopped after Stop.
func (p *Pool) Submit(fn func()) error {
	if p.stopped.Load() {
		return domain.ErrPoolStopped
	}
	p.pending.Add(1)
	select {
	case p.tasks <- fn:
		return nil
	default:
		p.pending.Add(-1)
		return domain.ErrPoolSaturated
	}
}

// SubmitAfter schedules a task to be enqueued after delay. The task counts
// as pending from submission time, so the governor sees queued retries.
func (p *Pool) SubmitAfter(delay time.Duration, fn func()) error {
	if p.stopped.Load() {
		return domain.ErrPoolStopped
	}
	if delay <= 0 {
		return p.Submit(fn)
	}

	p.pending.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		p.mu.Lock()
		delete(p.timers, t)
		p.mu.Unlock()

		if p.stopped.Load() {
			p.pending.Add(-1)
			return
		}
		select {
		case p.tasks <- fn:
		default:
			p.pending.Add(-1)
			p.logger.Warn("delayed task dropped, pool queue full")
		}
	})
	p.timers[t] = struct{}{}
	return nil
}

// Pending reports the number of tasks not yet finished. Inherently racy;
// callers use it as an approximate depth signal only.
func (p *Pool) Pending() int {
	return int(p.pending.Load())
}

// Stop force-stops the pool: pending timers are cancelled, queued tasks are
// abandoned, and workers exit after their current task. The pool cannot be
// reused afterward.
func (p *Pool) Stop() {
	if !p.stopped.CompareAndSwap(false, true) {
		return
	}
	p.mu.Lock()
	for t := range p.timers {
		t.Stop()
	}
	p.timers = make(map[*time.Timer]struct{})
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
}
