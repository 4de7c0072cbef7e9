package model

import (
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus is the gateway-agnostic classification of a payment outcome.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusSucceeded PaymentStatus = "SUCCEEDED"
	PaymentStatusFailed    PaymentStatus = "FAILED"
	PaymentStatusExpired   PaymentStatus = "EXPIRED"
	PaymentStatusCancelled PaymentStatus = "CANCELLED"
	PaymentStatusUnknown   PaymentStatus = "UNKNOWN" // raw status not in the gateway table
)

// IsTerminal reports whether s is a final gateway verdict.
func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case PaymentStatusSucceeded, PaymentStatusFailed, PaymentStatusExpired, PaymentStatusCancelled:
		return true
	}
	return false
}

// Merge returns the status a ledger row holds after observing next on top of s.
// SUCCEEDED is sticky and PENDING/UNKNOWN never overwrite a terminal verdict, so
// out-of-order deliveries cannot regress a row.
func (s PaymentStatus) Merge(next PaymentStatus) PaymentStatus {
	if s == PaymentStatusSucceeded {
		return s
	}
	if s.IsTerminal() && !next.IsTerminal() {
		return s
	}
	return next
}

// GrantState tracks the entitlement side effect of a SUCCEEDED ledger row.
type GrantState string

const (
	GrantStateNone        GrantState = ""            // row never reached SUCCEEDED
	GrantStatePending     GrantState = "pending"     // SUCCEEDED, entitlement not yet materialised
	GrantStateApplied     GrantState = "applied"     // entitlement written
	GrantStateUndecodable GrantState = "undecodable" // reference unusable; waits for manual reconciliation
)

// StatusTable maps a gateway's raw status strings into the normalized taxonomy.
type StatusTable map[string]PaymentStatus

// Normalize looks raw up case-insensitively. Unmapped input is UNKNOWN, never success.
func (t StatusTable) Normalize(raw string) PaymentStatus {
	if st, ok := t[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return st
	}
	return PaymentStatusUnknown
}

// PaymentNotification is an inbound, untrusted gateway callback.
type PaymentNotification struct {
	Gateway    string
	Method     string
	Headers    http.Header
	Body       []byte
	RemoteAddr string
	ReceivedAt time.Time
}

// GatewayEvent is the parsed content of an authenticated notification.
type GatewayEvent struct {
	TransactionID string `validate:"required,max=128"`
	ReferenceID   string `validate:"required,max=255"`
	RawStatus     string `validate:"required"`
	Amount        decimal.Decimal
	Currency      string `validate:"omitempty,len=3"`
}

// PaymentRecord is one ledger row per gateway transaction.
type PaymentRecord struct {
	ID               string // gateway transaction/order id, the idempotency key together with Gateway
	Gateway          string
	ReferenceID      string
	UserID           string  // empty when the reference could not be decoded
	CourseID         *string // nil for subscription purchases
	Amount           decimal.Decimal
	Currency         string
	GatewayStatus    string
	NormalizedStatus PaymentStatus
	GrantState       GrantState
	RawPayload       []byte
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// LedgerFields carries the values a notification contributes to a ledger upsert.
type LedgerFields struct {
	ReferenceID      string
	UserID           string
	CourseID         *string
	Amount           decimal.Decimal
	Currency         string
	GatewayStatus    string
	NormalizedStatus PaymentStatus
	RawPayload       []byte
}

// UpsertResult reports what a ledger upsert did.
type UpsertResult struct {
	Record         *PaymentRecord
	PreviousStatus PaymentStatus // empty when the row was inserted by this call
	Inserted       bool
}

// BecameSucceeded reports whether this upsert performed the transition into SUCCEEDED.
func (r *UpsertResult) BecameSucceeded() bool {
	return r.Record.NormalizedStatus == PaymentStatusSucceeded && r.PreviousStatus != PaymentStatusSucceeded
}

// MergeInto applies f to rec using the ledger merge rules and returns the new record.
// CreatedAt is preserved; reference/user/course are only filled in, never cleared.
func (f LedgerFields) MergeInto(rec PaymentRecord, now time.Time) PaymentRecord {
	prev := rec.NormalizedStatus
	out := rec
	out.NormalizedStatus = prev.Merge(f.NormalizedStatus)
	if out.NormalizedStatus == f.NormalizedStatus {
		out.GatewayStatus = f.GatewayStatus
	}
	if f.ReferenceID != "" {
		out.ReferenceID = f.ReferenceID
	}
	if f.UserID != "" {
		out.UserID = f.UserID
	}
	if f.CourseID != nil {
		out.CourseID = f.CourseID
	}
	if !f.Amount.IsZero() {
		out.Amount = f.Amount
	}
	if f.Currency != "" {
		out.Currency = f.Currency
	}
	if len(f.RawPayload) > 0 {
		out.RawPayload = f.RawPayload
	}
	if out.NormalizedStatus == PaymentStatusSucceeded && prev != PaymentStatusSucceeded {
		out.GrantState = GrantStatePending
	}
	out.UpdatedAt = now
	return out
}
