package worker

import (
	"context"
	"errors"
	"runtime"
	"sync"

	"github.com/rs/zerolog"
)

var (
	// ErrQueueFull is returned by Submit when the backlog is at capacity.
	ErrQueueFull = errors.New("worker queue full")
	// ErrStopped is returned by Submit after Stop.
	ErrStopped = errors.New("worker pool stopped")
)

// Task is one unit of background work. A returned error is logged, not retried.
type Task func(ctx context.Context) error

// Pool runs tasks on a fixed number of goroutines behind a bounded backlog.
type Pool struct {
	wg       sync.WaitGroup
	jobs     chan Task
	quit     chan struct{}
	stopOnce sync.Once
	mu       sync.RWMutex
	stopped  bool
	n        int
	log      *zerolog.Logger
}

// NewPool sizes the backlog at four tasks per worker. workers <= 0 means one per CPU.
func NewPool(workers int, logger *zerolog.Logger) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	l := logger.With().Str("component", "worker_pool").Logger()
	return &Pool{jobs: make(chan Task, workers*4), quit: make(chan struct{}), n: workers, log: &l}
}

func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.n; i++ {
		p.wg.Add(1)
		go p.loop(ctx, i)
	}
}

func (p *Pool) loop(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.quit:
			return
		case task := <-p.jobs:
			p.run(ctx, id, task)
		}
	}
}

func (p *Pool) run(ctx context.Context, id int, task Task) {
	defer func() {
		if rec := recover(); rec != nil {
			p.log.Error().Interface("panic", rec).Int("worker", id).Msg("task panicked")
		}
	}()
	if err := task(ctx); err != nil {
		p.log.Warn().Err(err).Int("worker", id).Msg("task error")
	}
}

// Stop makes workers exit after their current task and waits for them. Queued
// tasks that never started are dropped. Safe to call more than once.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.stopped = true
		p.mu.Unlock()
		close(p.quit)
	})
	p.wg.Wait()
}

// Submit never blocks: when saturated the task is refused with ErrQueueFull.
func (p *Pool) Submit(task Task) error {
	if task == nil {
		return errors.New("nil task")
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrStopped
	}
	select {
	case p.jobs <- task:
		return nil
	default:
		return ErrQueueFull
	}
}
