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

var _ adapter.PaymentGateway = (*IPaymuGateway)(nil)

// IPaymuGateway opens iPaymu redirect-payment sessions (REST v2). Requests are
// signed with the same HMAC construction iPaymu uses for its notifications.
type IPaymuGateway struct {
	va      string
	apiKey  string
	baseURL string
	maxRef  int
	client  *http.Client
	now     func() time.Time
}

func NewIPaymuGateway(cfg config.GatewayConfig) (*IPaymuGateway, error) {
	if cfg.MerchantKey == "" || cfg.Secret == "" {
		return nil, errors.New("ipaymu: va and api key are required")
	}
	base := cfg.BaseURL
	if base == "" {
		base = "https://my.ipaymu.com"
		if cfg.Sandbox {
			base = "https://sandbox.ipaymu.com"
		}
	}
	return &IPaymuGateway{
		va:      cfg.MerchantKey,
		apiKey:  cfg.Secret,
		baseURL: strings.TrimRight(base, "/"),
		maxRef:  cfg.MaxReferenceLen,
		client:  &http.Client{Timeout: 15 * time.Second},
		now:     time.Now,
	}, nil
}

func (g *IPaymuGateway) Name() string         { return verify.GatewayIPaymu }
func (g *IPaymuGateway) MaxReferenceLen() int { return g.maxRef }

// CreateSession calls /api/v2/payment and returns the hosted page URL.
func (g *IPaymuGateway) CreateSession(ctx context.Context, in adapter.SessionRequest) (adapter.SessionResult, error) {
	payload := map[string]any{
		"product":     []string{in.Description},
		"qty":         []string{"1"},
		"price":       []json.Number{json.Number(in.Amount.String())},
		"referenceId": in.ReferenceID,
		"returnUrl":   in.ReturnURL,
		"cancelUrl":   in.ReturnURL,
		"notifyUrl":   in.NotifyURL,
		"buyerName":   in.BuyerName,
		"buyerEmail":  in.BuyerEmail,
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return adapter.SessionResult{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/api/v2/payment", bytes.NewReader(b))
	if err != nil {
		return adapter.SessionResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("va", g.va)
	req.Header.Set("signature", verify.ComputeSignature(http.MethodPost, g.va, g.apiKey, b))
	req.Header.Set("timestamp", g.now().Format("20060102150405"))

	resp, err := g.client.Do(req)
	if err != nil {
		return adapter.SessionResult{}, err
	}
	defer resp.Body.Close()
	var out struct {
		Status  int    `json:"Status"`
		Success bool   `json:"Success"`
		Message string `json:"Message"`
		Data    struct {
			SessionID string `json:"SessionID"`
			URL       string `json:"Url"`
		} `json:"Data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return adapter.SessionResult{}, fmt.Errorf("ipaymu: decode response (http %d): %w", resp.StatusCode, err)
	}
	if !out.Success || out.Data.URL == "" {
		return adapter.SessionResult{}, fmt.Errorf("ipaymu request failed: status=%d message=%q", out.Status, out.Message)
	}
	return adapter.SessionResult{SessionID: out.Data.SessionID, RedirectURL: out.Data.URL}, nil
}
