// File: internal/usecase/ingest_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"coursepay/internal/domain"
	"coursepay/internal/domain/model"
	"coursepay/internal/domain/ports/adapter"
	"coursepay/internal/domain/ports/repository"
	"coursepay/internal/infra/logging"
	"coursepay/internal/infra/metrics"
)

// IngestOutcome is the handled result of one gateway notification.
type IngestOutcome string

const (
	OutcomeApplied                  IngestOutcome = "applied"
	OutcomeDuplicateIgnored         IngestOutcome = "duplicate_ignored"
	OutcomeRejectedInvalidSignature IngestOutcome = "rejected_invalid_signature"
	OutcomeRejectedUndecodable      IngestOutcome = "rejected_undecodable"
	OutcomeNoOpStatus               IngestOutcome = "noop_status"
)

// Alert reasons.
const (
	reasonUndecodableReference = "undecodable_reference"
	reasonUnknownUser          = "unknown_user"
	reasonUnknownCourse        = "unknown_course"
)

// Compile-time check
var _ IngestUseCase = (*ingestUC)(nil)

type IngestUseCase interface {
	// Handle authenticates, records and, on a first success, materialises one
	// notification. A non-nil error means the gateway should redeliver.
	Handle(ctx context.Context, n model.PaymentNotification) (IngestOutcome, error)
	// Resume finishes a SUCCEEDED ledger row whose grant is still pending, using
	// the ledger alone.
	Resume(ctx context.Context, gateway, transactionID string) (IngestOutcome, error)
	// Reopen puts a row parked for manual reconciliation back to pending and
	// resumes it, once an operator has fixed the missing user or course.
	Reopen(ctx context.Context, gateway, transactionID string) (IngestOutcome, error)
}

type ingestUC struct {
	gateways adapter.GatewayResolver
	ledger   repository.PaymentLedger
	users    repository.UserDirectory
	catalog  repository.CourseCatalog
	ents     EntitlementUseCase
	alerts   adapter.Alerter
	timeout  time.Duration
	log      *zerolog.Logger
}

func NewIngestUseCase(
	gateways adapter.GatewayResolver,
	ledger repository.PaymentLedger,
	users repository.UserDirectory,
	catalog repository.CourseCatalog,
	ents EntitlementUseCase,
	alerts adapter.Alerter,
	storageTimeout time.Duration,
	logger *zerolog.Logger,
) *ingestUC {
	if storageTimeout <= 0 {
		storageTimeout = 5 * time.Second
	}
	l := logger.With().Str("component", "IngestUseCase").Logger()
	return &ingestUC{
		gateways: gateways,
		ledger:   ledger,
		users:    users,
		catalog:  catalog,
		ents:     ents,
		alerts:   alerts,
		timeout:  storageTimeout,
		log:      &l,
	}
}

// target is a decoded reference with compact suffixes resolved to real ids.
type target struct {
	kind     model.ReferenceKind
	userID   string
	courseID string
}

func (u *ingestUC) Handle(ctx context.Context, n model.PaymentNotification) (IngestOutcome, error) {
	defer logging.TraceDuration(u.log, "IngestUC.Handle")()
	ctx = logging.WithGateway(ctx, n.Gateway)

	gw, err := u.gateways.Lookup(n.Gateway)
	if err != nil {
		return "", err
	}

	if err := gw.Authenticate(n.Method, n.Headers, n.Body); err != nil {
		if errors.Is(err, domain.ErrInvalidSignature) {
			logging.With(ctx, u.log).Warn().Err(err).Str("remote", n.RemoteAddr).Msg("rejected notification with invalid signature")
			return u.done(gw.Name(), OutcomeRejectedInvalidSignature), nil
		}
		return "", err
	}

	ev, err := gw.ParseEvent(n.Body)
	if err != nil {
		return "", err
	}
	ctx = logging.WithTransactionID(ctx, ev.TransactionID)
	log := logging.With(ctx, u.log)

	status := gw.Normalize(ev.RawStatus)
	if status == model.PaymentStatusUnknown {
		metrics.IncUnknownStatus(gw.Name())
		log.Warn().Str("raw_status", ev.RawStatus).Err(domain.ErrUnrecognizedStatus).Msg("gateway status not in mapping table")
	}

	tgt, decodeErr := u.resolveReference(ctx, ev.ReferenceID)
	if decodeErr != nil && !isDecodeError(decodeErr) {
		return "", decodeErr
	}

	fields := model.LedgerFields{
		ReferenceID:      ev.ReferenceID,
		UserID:           tgt.userID,
		Amount:           ev.Amount,
		Currency:         ev.Currency,
		GatewayStatus:    ev.RawStatus,
		NormalizedStatus: status,
		RawPayload:       n.Body,
	}
	if tgt.kind == model.ReferenceKindCourse {
		courseID := tgt.courseID
		fields.CourseID = &courseID
	}

	uctx, cancel := context.WithTimeout(ctx, u.timeout)
	res, err := u.ledger.UpsertByTransactionID(uctx, gw.Name(), ev.TransactionID, fields)
	cancel()
	if err != nil {
		log.Error().Err(err).Msg("ledger upsert failed")
		return "", err
	}

	if status != model.PaymentStatusSucceeded {
		log.Info().Str("status", string(status)).Str("ledger_status", string(res.Record.NormalizedStatus)).Msg("non-success notification recorded")
		return u.done(gw.Name(), OutcomeNoOpStatus), nil
	}
	if !res.BecameSucceeded() && res.Record.GrantState != model.GrantStatePending {
		log.Info().Str("grant_state", string(res.Record.GrantState)).Msg("duplicate success notification ignored")
		return u.done(gw.Name(), OutcomeDuplicateIgnored), nil
	}
	if res.BecameSucceeded() {
		metrics.AddPaymentRevenue(res.Record.Currency, res.Record.Amount)
	}

	outcome, err := u.materialize(ctx, res.Record, tgt, decodeErr)
	if err != nil {
		return "", err
	}
	return u.done(gw.Name(), outcome), nil
}

func (u *ingestUC) Resume(ctx context.Context, gateway, transactionID string) (IngestOutcome, error) {
	defer logging.TraceDuration(u.log, "IngestUC.Resume")()
	ctx = logging.WithTransactionID(logging.WithGateway(ctx, gateway), transactionID)

	fctx, cancel := context.WithTimeout(ctx, u.timeout)
	rec, err := u.ledger.FindByTransactionID(fctx, repository.NoTX, gateway, transactionID)
	cancel()
	if err != nil {
		return "", err
	}
	if rec.NormalizedStatus != model.PaymentStatusSucceeded {
		return OutcomeNoOpStatus, nil
	}
	if rec.GrantState != model.GrantStatePending {
		return OutcomeDuplicateIgnored, nil
	}

	tgt, decodeErr := u.resolveReference(ctx, rec.ReferenceID)
	if decodeErr != nil && !isDecodeError(decodeErr) {
		return "", decodeErr
	}
	outcome, err := u.materialize(ctx, rec, tgt, decodeErr)
	if err != nil {
		return "", err
	}
	logging.With(ctx, u.log).Info().Str("outcome", string(outcome)).Msg("resumed pending grant")
	return outcome, nil
}

func (u *ingestUC) Reopen(ctx context.Context, gateway, transactionID string) (IngestOutcome, error) {
	ctx = logging.WithTransactionID(logging.WithGateway(ctx, gateway), transactionID)

	rctx, cancel := context.WithTimeout(ctx, u.timeout)
	reopened, err := u.ledger.ReopenGrant(rctx, repository.NoTX, gateway, transactionID)
	cancel()
	if err != nil {
		return "", fmt.Errorf("reopen grant: %w", err)
	}
	if reopened {
		logging.With(ctx, u.log).Info().Msg("parked grant reopened")
	}
	return u.Resume(ctx, gateway, transactionID)
}

// materialize turns a SUCCEEDED row with a pending grant into entitlement and
// closes the grant. It is safe to repeat: the entitlement store remembers which
// payments it has applied.
func (u *ingestUC) materialize(ctx context.Context, rec *model.PaymentRecord, tgt target, decodeErr error) (IngestOutcome, error) {
	if decodeErr != nil {
		return u.reject(ctx, rec, reasonUndecodableReference)
	}

	grant := model.Grant{PaymentID: model.GrantKey(rec.Gateway, rec.ID), Kind: tgt.kind}
	switch tgt.kind {
	case model.ReferenceKindCourse:
		cctx, cancel := context.WithTimeout(ctx, u.timeout)
		_, err := u.catalog.FindByID(cctx, tgt.courseID)
		cancel()
		if errors.Is(err, domain.ErrNotFound) {
			return u.reject(ctx, rec, reasonUnknownCourse)
		}
		if err != nil {
			return "", err
		}
		grant.CourseIDs = []string{tgt.courseID}
	case model.ReferenceKindSubscription:
		cctx, cancel := context.WithTimeout(ctx, u.timeout)
		ids, err := u.catalog.ListIDs(cctx)
		cancel()
		if err != nil {
			return "", err
		}
		if len(ids) == 0 {
			logging.With(ctx, u.log).Warn().Msg("subscription paid while the catalog is empty")
		}
		grant.CourseIDs = ids
	}

	applied, err := u.ents.Apply(ctx, tgt.userID, grant)
	if errors.Is(err, domain.ErrNotFound) {
		return u.reject(ctx, rec, reasonUnknownUser)
	}
	if err != nil {
		return "", err
	}

	if err := u.markGrant(ctx, rec, model.GrantStateApplied); err != nil {
		return "", err
	}
	if !applied {
		return OutcomeDuplicateIgnored, nil
	}
	logging.With(ctx, u.log).Info().
		Str("user_id", tgt.userID).
		Strs("course_ids", grant.CourseIDs).
		Msg("entitlement granted")
	return OutcomeApplied, nil
}

// reject parks a paid row for manual reconciliation. The payment stays
// SUCCEEDED in the ledger; entitlement is never guessed.
func (u *ingestUC) reject(ctx context.Context, rec *model.PaymentRecord, reason string) (IngestOutcome, error) {
	if err := u.markGrant(ctx, rec, model.GrantStateUndecodable); err != nil {
		return "", err
	}
	alert := adapter.ReconciliationAlert{
		Gateway:       rec.Gateway,
		TransactionID: rec.ID,
		ReferenceID:   rec.ReferenceID,
		Reason:        reason,
		TraceID:       logging.TraceIDFrom(ctx),
	}
	if err := u.alerts.Raise(ctx, alert); err != nil {
		logging.With(ctx, u.log).Error().Err(err).Msg("reconciliation alert delivery failed")
	}
	return OutcomeRejectedUndecodable, nil
}

func (u *ingestUC) markGrant(ctx context.Context, rec *model.PaymentRecord, state model.GrantState) error {
	mctx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()
	moved, err := u.ledger.MarkGrant(mctx, repository.NoTX, rec.Gateway, rec.ID, state)
	if err != nil {
		return fmt.Errorf("mark grant %s: %w", state, err)
	}
	if !moved {
		logging.With(ctx, u.log).Debug().Str("grant_state", string(state)).Msg("grant already closed by a concurrent delivery")
	}
	return nil
}

// resolveReference decodes token and resolves compact suffixes. Unusable
// references come back as *model.DecodeError; anything else is a storage error.
func (u *ingestUC) resolveReference(ctx context.Context, token string) (target, error) {
	ref, err := model.DecodeReference(token)
	if err != nil {
		logging.With(ctx, u.log).Warn().Err(err).Str("reference_id", token).Msg("undecodable payment reference")
		return target{}, err
	}
	tgt := target{kind: ref.Kind, userID: ref.UserID, courseID: ref.CourseID}
	if !ref.Compact {
		return tgt, nil
	}

	rctx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()
	tgt.userID, err = u.users.FindIDBySuffix(rctx, repository.NoTX, ref.UserID)
	if err != nil {
		return target{}, u.suffixErr(ctx, token, "user", err)
	}
	if ref.Kind == model.ReferenceKindCourse {
		tgt.courseID, err = u.catalog.FindIDBySuffix(rctx, ref.CourseID)
		if err != nil {
			return target{}, u.suffixErr(ctx, token, "course", err)
		}
	}
	return tgt, nil
}

func (u *ingestUC) suffixErr(ctx context.Context, token, what string, err error) error {
	if !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	derr := &model.DecodeError{Token: token, Reason: fmt.Sprintf("%s suffix does not resolve to exactly one id", what)}
	logging.With(ctx, u.log).Warn().Err(derr).Str("reference_id", token).Msg("undecodable payment reference")
	return derr
}

func (u *ingestUC) done(gateway string, o IngestOutcome) IngestOutcome {
	metrics.IncIngestOutcome(gateway, string(o))
	return o
}

func isDecodeError(err error) bool {
	var derr *model.DecodeError
	return errors.As(err, &derr)
}
