// File: internal/usecase/entitlement_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"coursepay/internal/domain"
	"coursepay/internal/domain/model"
	"coursepay/internal/domain/ports/repository"
	"coursepay/internal/infra/logging"
	"coursepay/internal/infra/metrics"
)

// Compile-time check
var _ EntitlementUseCase = (*entitlementUC)(nil)

type EntitlementUseCase interface {
	// Apply materialises g for userID. It returns false when the grant had
	// already been applied. Exhausted optimistic retries yield domain.ErrStorageConflict.
	Apply(ctx context.Context, userID string, g model.Grant) (bool, error)
	// HasAccess evaluates expiry at read time.
	HasAccess(ctx context.Context, userID, courseID string) (bool, error)
}

type EntitlementOptions struct {
	AccessPeriod    time.Duration
	ConflictRetries int
	StorageTimeout  time.Duration
}

type entitlementUC struct {
	users   repository.UserDirectory
	period  time.Duration
	retries int
	timeout time.Duration
	now     func() time.Time
	log     *zerolog.Logger
}

func NewEntitlementUseCase(users repository.UserDirectory, opts EntitlementOptions, logger *zerolog.Logger) *entitlementUC {
	if opts.AccessPeriod <= 0 {
		opts.AccessPeriod = model.DefaultAccessPeriod
	}
	if opts.ConflictRetries < 0 {
		opts.ConflictRetries = 0
	}
	if opts.StorageTimeout <= 0 {
		opts.StorageTimeout = 5 * time.Second
	}
	l := logger.With().Str("component", "EntitlementUseCase").Logger()
	return &entitlementUC{
		users:   users,
		period:  opts.AccessPeriod,
		retries: opts.ConflictRetries,
		timeout: opts.StorageTimeout,
		now:     time.Now,
		log:     &l,
	}
}

func (u *entitlementUC) Apply(ctx context.Context, userID string, g model.Grant) (bool, error) {
	defer logging.TraceDuration(u.log, "EntitlementUC.Apply")()
	log := logging.With(ctx, u.log)

	for attempt := 0; attempt <= u.retries; attempt++ {
		if attempt > 0 {
			metrics.IncEntitlementRetry("retry")
			log.Debug().Str("payment_id", g.PaymentID).Int("attempt", attempt).Msg("entitlement write conflict, retrying")
		}
		applied, err := u.tryApply(ctx, userID, g)
		if errors.Is(err, domain.ErrVersionConflict) {
			continue
		}
		return applied, err
	}
	metrics.IncEntitlementRetry("exhausted")
	log.Warn().Str("payment_id", g.PaymentID).Str("user_id", userID).Msg("entitlement write retries exhausted")
	return false, fmt.Errorf("user %s after %d attempts: %w", userID, u.retries+1, domain.ErrStorageConflict)
}

// tryApply is one read-modify-write round.
func (u *entitlementUC) tryApply(ctx context.Context, userID string, g model.Grant) (bool, error) {
	rctx, cancel := context.WithTimeout(ctx, u.timeout)
	user, err := u.users.FindByID(rctx, repository.NoTX, userID)
	cancel()
	if err != nil {
		return false, err
	}

	ents, applied, changed := model.ResolveGrant(user.PurchasedCourses, user.AppliedPaymentIDs, g, u.now().UTC(), u.period)
	if !changed {
		return false, nil
	}

	wctx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()
	if err := u.users.UpdateEntitlements(wctx, repository.NoTX, userID, user.Version, ents, applied); err != nil {
		return false, err
	}
	return true, nil
}

func (u *entitlementUC) HasAccess(ctx context.Context, userID, courseID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()
	user, err := u.users.FindByID(ctx, repository.NoTX, userID)
	if err != nil {
		return false, err
	}
	return user.PurchasedCourses.ActiveAt(courseID, u.now()), nil
}
