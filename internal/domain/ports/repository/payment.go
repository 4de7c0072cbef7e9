package repository

import (
	"context"
	"time"

	"coursepay/internal/domain/model"
)

// -----------------------------
// Payment ledger
// -----------------------------

// PaymentLedger is the append/update store of one record per gateway transaction.
// UpsertByTransactionID is the idempotency boundary of the ingestion pipeline: it
// must serialize concurrent calls for the same (gateway, transactionID) at the
// storage level, never read-then-write.
type PaymentLedger interface {
	UpsertByTransactionID(ctx context.Context, gateway, transactionID string, f model.LedgerFields) (*model.UpsertResult, error)
	FindByTransactionID(ctx context.Context, tx Tx, gateway, transactionID string) (*model.PaymentRecord, error)
	// MarkGrant moves a SUCCEEDED row out of GrantStatePending. It reports false
	// when the row was not pending anymore.
	MarkGrant(ctx context.Context, tx Tx, gateway, transactionID string, state model.GrantState) (bool, error)
	// ReopenGrant moves a SUCCEEDED row parked as GrantStateUndecodable back to
	// GrantStatePending. It reports false when the row was not parked.
	ReopenGrant(ctx context.Context, tx Tx, gateway, transactionID string) (bool, error)
	// ListPendingGrants returns SUCCEEDED rows whose grant is still pending and
	// that were last touched before olderThan.
	ListPendingGrants(ctx context.Context, tx Tx, olderThan time.Time, limit int) ([]*model.PaymentRecord, error)
}
