package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"coursepay/internal/config"
	"coursepay/internal/domain/ports/adapter"
	verify "coursepay/internal/infra/payment"
)

var _ adapter.PaymentGateway = (*MidtransGateway)(nil)

// midtrans rejects order ids longer than this
const midtransOrderIDMax = 50

// MidtransGateway opens Snap sessions. The merchant order_id is our reference.
type MidtransGateway struct {
	serverKey string
	baseURL   string
	maxRef    int
	client    *http.Client
}

func NewMidtransGateway(cfg config.GatewayConfig) (*MidtransGateway, error) {
	if cfg.Secret == "" {
		return nil, errors.New("midtrans: server key is required")
	}
	base := cfg.BaseURL
	if base == "" {
		base = "https://app.midtrans.com"
		if cfg.Sandbox {
			base = "https://app.sandbox.midtrans.com"
		}
	}
	maxRef := cfg.MaxReferenceLen
	if maxRef <= 0 || maxRef > midtransOrderIDMax {
		maxRef = midtransOrderIDMax
	}
	return &MidtransGateway{
		serverKey: cfg.Secret,
		baseURL:   strings.TrimRight(base, "/"),
		maxRef:    maxRef,
		client:    &http.Client{Timeout: 15 * time.Second},
	}, nil
}

func (g *MidtransGateway) Name() string         { return verify.GatewayMidtrans }
func (g *MidtransGateway) MaxReferenceLen() int { return g.maxRef }

// CreateSession calls /snap/v1/transactions and returns the Snap token and redirect URL.
func (g *MidtransGateway) CreateSession(ctx context.Context, in adapter.SessionRequest) (adapter.SessionResult, error) {
	if len(in.ReferenceID) > g.maxRef {
		return adapter.SessionResult{}, fmt.Errorf("midtrans: order id %q longer than %d", in.ReferenceID, g.maxRef)
	}
	payload := map[string]any{
		"transaction_details": map[string]any{
			"order_id":     in.ReferenceID,
			"gross_amount": json.Number(in.Amount.StringFixed(0)),
		},
		"customer_details": map[string]any{
			"first_name": in.BuyerName,
			"email":      in.BuyerEmail,
		},
		"item_details": []map[string]any{{
			"id":       in.ReferenceID,
			"name":     truncate(in.Description, 50),
			"price":    json.Number(in.Amount.StringFixed(0)),
			"quantity": 1,
		}},
	}
	if in.ReturnURL != "" {
		payload["callbacks"] = map[string]any{"finish": in.ReturnURL}
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return adapter.SessionResult{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/snap/v1/transactions", bytes.NewReader(b))
	if err != nil {
		return adapter.SessionResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(g.serverKey, "")
	if in.NotifyURL != "" {
		req.Header.Set("X-Override-Notification", in.NotifyURL)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return adapter.SessionResult{}, err
	}
	defer resp.Body.Close()
	var out struct {
		Token         string   `json:"token"`
		RedirectURL   string   `json:"redirect_url"`
		ErrorMessages []string `json:"error_messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return adapter.SessionResult{}, fmt.Errorf("midtrans: decode response (http %d): %w", resp.StatusCode, err)
	}
	if (resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK) || out.Token == "" {
		return adapter.SessionResult{}, fmt.Errorf("midtrans snap failed: http %d %s", resp.StatusCode, strings.Join(out.ErrorMessages, "; "))
	}
	return adapter.SessionResult{SessionID: out.Token, RedirectURL: out.RedirectURL}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
