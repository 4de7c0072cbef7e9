package adapter

import (
	"context"
	"time"
)

// ReconciliationAlert asks an operator to look at a payment the engine could not
// turn into an entitlement on its own.
type ReconciliationAlert struct {
	ID            string
	Gateway       string
	TransactionID string
	ReferenceID   string // raw token, kept verbatim for manual matching
	Reason        string
	TraceID       string
	RaisedAt      time.Time
}

// Alerter delivers reconciliation alerts to operators.
type Alerter interface {
	Raise(ctx context.Context, a ReconciliationAlert) error
}
