package payment

import (
	"strings"

	"coursepay/internal/config"
	"coursepay/internal/domain/model"
)

const GatewayMidtrans = "midtrans"

// a capture flagged by fraud screening is not money yet
const midtransCaptureChallenge = "capture:challenge"

var midtransStatuses = model.StatusTable{
	"capture":                model.PaymentStatusSucceeded,
	"settlement":             model.PaymentStatusSucceeded,
	midtransCaptureChallenge: model.PaymentStatusPending,
	"pending":                model.PaymentStatusPending,
	"authorize":              model.PaymentStatusPending,
	"deny":                   model.PaymentStatusFailed,
	"failure":                model.PaymentStatusFailed,
	"expire":                 model.PaymentStatusExpired,
	"cancel":                 model.PaymentStatusCancelled,
}

// midtransBinding: signature in the signature_key body field; the merchant
// order_id is our reference.
type midtransBinding struct {
	scheme   *BodyFieldScheme
	currency string
}

func NewMidtransBinding(cfg config.GatewayConfig, currency string) Binding {
	return &midtransBinding{
		scheme:   NewBodyFieldScheme(cfg.MerchantKey, cfg.Secret),
		currency: currency,
	}
}

func (b *midtransBinding) Name() string                { return GatewayMidtrans }
func (b *midtransBinding) Scheme() SigningScheme       { return b.scheme }
func (b *midtransBinding) Statuses() model.StatusTable { return midtransStatuses }

func (b *midtransBinding) ParseEvent(body []byte) (model.GatewayEvent, error) {
	f, err := decodeFields(body)
	if err != nil {
		return model.GatewayEvent{}, err
	}
	amount, err := f.amount("gross_amount")
	if err != nil {
		return model.GatewayEvent{}, err
	}
	status := strings.ToLower(f.str("transaction_status"))
	if status == "capture" && strings.EqualFold(f.str("fraud_status"), "challenge") {
		status = midtransCaptureChallenge
	}
	currency := strings.ToUpper(f.str("currency"))
	if currency == "" {
		currency = b.currency
	}
	return validateEvent(model.GatewayEvent{
		TransactionID: f.str("transaction_id"),
		ReferenceID:   f.str("order_id"),
		RawStatus:     status,
		Amount:        amount,
		Currency:      currency,
	})
}
