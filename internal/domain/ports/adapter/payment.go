package adapter

import (
	"context"

	"github.com/shopspring/decimal"
)

// SessionRequest is what a gateway needs to open a hosted payment page.
type SessionRequest struct {
	ReferenceID string
	Amount      decimal.Decimal
	Currency    string
	BuyerName   string
	BuyerEmail  string
	Description string
	ReturnURL   string
	NotifyURL   string
}

// SessionResult is the gateway's answer: where to send the buyer.
type SessionResult struct {
	SessionID   string
	RedirectURL string
}

// PaymentGateway is the outbound port for payment-session creation.
type PaymentGateway interface {
	Name() string
	// MaxReferenceLen is the gateway's order-id budget; 0 means unlimited.
	MaxReferenceLen() int
	CreateSession(ctx context.Context, req SessionRequest) (SessionResult, error)
}
