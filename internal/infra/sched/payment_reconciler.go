package sched

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"coursepay/internal/domain"
	"coursepay/internal/domain/ports/repository"
	"coursepay/internal/infra/metrics"
	red "coursepay/internal/infra/redis"
	"coursepay/internal/infra/worker"
	"coursepay/internal/usecase"
)

const reconcilerLockKey = "coursepay:lock:payment_reconciler"

// Resumer is the part of the ingestion pipeline the reconciler drives.
type Resumer interface {
	Resume(ctx context.Context, gateway, transactionID string) (usecase.IngestOutcome, error)
}

// PaymentReconciler periodically scans for SUCCEEDED payments whose entitlement
// was never written (crash or storage outage mid-ingest) and resumes them from
// the ledger. Only one replica sweeps at a time.
type PaymentReconciler struct {
	uc         Resumer
	payments   repository.PaymentLedger
	locker     red.Locker
	pool       *worker.Pool
	staleAfter time.Duration // how long a grant must have been pending
	lockTTL    time.Duration
	batch      int
	now        func() time.Time
	log        *zerolog.Logger
}

// NewPaymentReconciler: locker and pool are optional. Without a locker every
// replica sweeps; without a pool rows are resumed inline.
func NewPaymentReconciler(uc Resumer, payments repository.PaymentLedger, locker red.Locker, pool *worker.Pool, staleAfter, lockTTL time.Duration, logger *zerolog.Logger) *PaymentReconciler {
	if staleAfter <= 0 {
		staleAfter = 10 * time.Minute
	}
	if lockTTL <= 0 {
		lockTTL = time.Minute
	}
	l := logger.With().Str("component", "PaymentReconciler").Logger()
	return &PaymentReconciler{
		uc:         uc,
		payments:   payments,
		locker:     locker,
		pool:       pool,
		staleAfter: staleAfter,
		lockTTL:    lockTTL,
		batch:      100,
		now:        time.Now,
		log:        &l,
	}
}

func (w *PaymentReconciler) Name() string { return "payment_reconciler" }

// Run performs one sweep and returns how many rows were resumed.
func (w *PaymentReconciler) Run(ctx context.Context) (int, error) {
	if w.locker != nil {
		token, err := w.locker.TryLock(ctx, reconcilerLockKey, w.lockTTL)
		if errors.Is(err, domain.ErrLockNotAcquired) {
			metrics.IncReconcilerSweep("skipped")
			return 0, nil
		}
		if err != nil {
			metrics.IncReconcilerSweep("error")
			return 0, err
		}
		defer func() {
			if err := w.locker.Unlock(context.WithoutCancel(ctx), reconcilerLockKey, token); err != nil {
				w.log.Warn().Err(err).Msg("unlock failed; lock will expire")
			}
		}()
	}

	cutoff := w.now().Add(-w.staleAfter)
	pending, err := w.payments.ListPendingGrants(ctx, repository.NoTX, cutoff, w.batch)
	if err != nil {
		metrics.IncReconcilerSweep("error")
		return 0, err
	}
	if len(pending) == 0 {
		metrics.IncReconcilerSweep("empty")
		return 0, nil
	}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		resumed int
	)
	for _, p := range pending {
		gateway, txID := p.Gateway, p.ID
		wg.Add(1)
		task := func(ctx context.Context) error {
			defer wg.Done()
			outcome, err := w.uc.Resume(ctx, gateway, txID)
			if err != nil {
				metrics.IncReconcilerResumed("error")
				w.log.Warn().Err(err).Str("gateway", gateway).Str("transaction_id", txID).Msg("resume failed; retrying next sweep")
				return nil
			}
			metrics.IncReconcilerResumed(string(outcome))
			w.log.Info().Str("gateway", gateway).Str("transaction_id", txID).Str("outcome", string(outcome)).Msg("reconciled payment")
			mu.Lock()
			resumed++
			mu.Unlock()
			return nil
		}
		if w.pool == nil {
			_ = task(ctx)
			continue
		}
		if err := w.pool.Submit(task); err != nil {
			wg.Done()
			metrics.IncReconcilerResumed("deferred")
		}
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		metrics.IncReconcilerSweep("timeout")
		mu.Lock()
		defer mu.Unlock()
		return resumed, ctx.Err()
	}
	metrics.IncReconcilerSweep("ok")
	return resumed, nil
}
