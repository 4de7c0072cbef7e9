package payment

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/spf13/cast"

	"coursepay/internal/config"
	"coursepay/internal/domain"
	"coursepay/internal/domain/model"
	"coursepay/internal/domain/ports/adapter"
)

// Binding is everything the ingestion pipeline needs to know about one gateway.
type Binding interface {
	Name() string
	Scheme() SigningScheme
	Statuses() model.StatusTable
	// ParseEvent extracts the event from an already authenticated body. Errors
	// wrap domain.ErrMalformedNotification.
	ParseEvent(body []byte) (model.GatewayEvent, error)
}

var _ adapter.GatewayResolver = (*Registry)(nil)

// Registry resolves gateway names to bindings and pairs them with the verifier.
type Registry struct {
	verifier *Verifier
	bindings map[string]Binding
}

func NewRegistry(verifier *Verifier, bs ...Binding) *Registry {
	r := &Registry{verifier: verifier, bindings: make(map[string]Binding, len(bs))}
	for _, b := range bs {
		r.bindings[strings.ToLower(b.Name())] = b
	}
	return r
}

// NewRegistryFromConfig registers every enabled gateway.
func NewRegistryFromConfig(verifier *Verifier, cfg config.PaymentConfig) *Registry {
	var bs []Binding
	if cfg.IPaymu.Enabled {
		bs = append(bs, NewIPaymuBinding(cfg.IPaymu, cfg.Currency))
	}
	if cfg.Midtrans.Enabled {
		bs = append(bs, NewMidtransBinding(cfg.Midtrans, cfg.Currency))
	}
	return NewRegistry(verifier, bs...)
}

// Binding returns the raw binding, e.g. to sign test notifications.
func (r *Registry) Binding(name string) (Binding, error) {
	b, ok := r.bindings[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, domain.ErrUnknownGateway)
	}
	return b, nil
}

func (r *Registry) Lookup(name string) (adapter.NotificationGateway, error) {
	b, err := r.Binding(name)
	if err != nil {
		return nil, err
	}
	return &verifiedGateway{Binding: b, verifier: r.verifier}, nil
}

func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.bindings))
	for n := range r.bindings {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

type verifiedGateway struct {
	Binding
	verifier *Verifier
}

func (g *verifiedGateway) Authenticate(method string, headers http.Header, body []byte) error {
	return g.verifier.Verify(g.Scheme(), method, headers, body)
}

func (g *verifiedGateway) Normalize(raw string) model.PaymentStatus {
	return g.Statuses().Normalize(raw)
}

var validate = validator.New()

// fields is a loosely typed notification body. Gateways send ids and amounts
// as numbers or strings depending on the endpoint version.
type fields map[string]interface{}

func decodeFields(body []byte) (fields, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var f fields
	if err := dec.Decode(&f); err != nil || f == nil {
		return nil, fmt.Errorf("body is not a json object: %w", domain.ErrMalformedNotification)
	}
	return f, nil
}

func (f fields) str(key string) string {
	v, ok := f[key]
	if !ok || v == nil {
		return ""
	}
	return strings.TrimSpace(cast.ToString(v))
}

func (f fields) amount(key string) (decimal.Decimal, error) {
	s := f.str(key)
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s %q: %w", key, s, domain.ErrMalformedNotification)
	}
	return d, nil
}

func validateEvent(ev model.GatewayEvent) (model.GatewayEvent, error) {
	if err := validate.Struct(ev); err != nil {
		return model.GatewayEvent{}, fmt.Errorf("%v: %w", err, domain.ErrMalformedNotification)
	}
	if ev.Amount.IsNegative() {
		return model.GatewayEvent{}, fmt.Errorf("negative amount: %w", domain.ErrMalformedNotification)
	}
	return ev, nil
}
