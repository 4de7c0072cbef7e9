package payment

import (
	"context"
	"fmt"
	"sync"

	"coursepay/internal/domain"
	"coursepay/internal/domain/ports/adapter"
)

var _ adapter.PaymentGateway = (*NoopPaymentGateway)(nil)

// NoopPaymentGateway is a simple in-memory gateway to use in tests and local runs.
type NoopPaymentGateway struct {
	mu       sync.Mutex
	seq      int64
	name     string
	maxRef   int
	sessions map[string]adapter.SessionRequest // session id -> request
}

func NewNoopPaymentGateway(name string, maxReferenceLen int) *NoopPaymentGateway {
	if name == "" {
		name = "noop"
	}
	return &NoopPaymentGateway{
		name:     name,
		maxRef:   maxReferenceLen,
		sessions: make(map[string]adapter.SessionRequest),
	}
}

func (g *NoopPaymentGateway) Name() string         { return g.name }
func (g *NoopPaymentGateway) MaxReferenceLen() int { return g.maxRef }

func (g *NoopPaymentGateway) next() string {
	g.seq++
	return fmt.Sprintf("noop-%d", g.seq)
}

func (g *NoopPaymentGateway) CreateSession(ctx context.Context, req adapter.SessionRequest) (adapter.SessionResult, error) {
	if req.ReferenceID == "" || !req.Amount.IsPositive() {
		return adapter.SessionResult{}, fmt.Errorf("noop session: %w", domain.ErrInvalidArgument)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.next()
	g.sessions[id] = req
	return adapter.SessionResult{SessionID: id, RedirectURL: "https://example.test/pay/" + id}, nil
}

// Session returns what was requested for id.
func (g *NoopPaymentGateway) Session(id string) (adapter.SessionRequest, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	req, ok := g.sessions[id]
	return req, ok
}
