package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"coursepay/internal/infra/metrics"
)

// Job is a periodic sweep. Run reports how many items it handled.
type Job interface {
	Name() string
	Run(ctx context.Context) (int, error)
}

// Scheduler drives one Job on a fixed interval. Runs never overlap: a sweep
// that outlasts the interval delays the next tick instead of stacking.
type Scheduler struct {
	interval time.Duration
	timeout  time.Duration
	job      Job
	log      *zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler defaults interval to one minute and the per-run timeout to 30s.
func NewScheduler(interval, timeout time.Duration, job Job, logger *zerolog.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	l := logger.With().Str("component", "scheduler").Str("job", job.Name()).Logger()
	return &Scheduler{interval: interval, timeout: timeout, job: job, log: &l}
}

// Start launches the loop. A second Start while running does nothing.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)
}

// Stop cancels the loop and waits for an in-flight run to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.log.Info().Msg("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	s.log.Info().Dur("interval", s.interval).Msg("scheduler started")

	t := time.NewTimer(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.tick(ctx)
			t.Reset(s.interval)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	n, err := s.job.Run(ctx)
	metrics.ObserveJobRun(s.job.Name(), time.Since(start), err)
	switch {
	case err != nil:
		s.log.Error().Err(err).Int("handled", n).Msg("run failed")
	case n > 0:
		s.log.Info().Int("handled", n).Dur("took", time.Since(start)).Msg("run finished")
	default:
		s.log.Debug().Msg("nothing to do")
	}
}
