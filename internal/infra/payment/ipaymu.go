package payment

import (
	"coursepay/internal/config"
	"coursepay/internal/domain/model"
)

const GatewayIPaymu = "ipaymu"

var ipaymuStatuses = model.StatusTable{
	"berhasil":   model.PaymentStatusSucceeded,
	"paid":       model.PaymentStatusSucceeded,
	"success":    model.PaymentStatusSucceeded,
	"pending":    model.PaymentStatusPending,
	"menunggu":   model.PaymentStatusPending,
	"expired":    model.PaymentStatusExpired,
	"kadaluarsa": model.PaymentStatusExpired,
	"gagal":      model.PaymentStatusFailed,
	"failed":     model.PaymentStatusFailed,
	"batal":      model.PaymentStatusCancelled,
	"cancelled":  model.PaymentStatusCancelled,
	"canceled":   model.PaymentStatusCancelled,
}

// ipaymuBinding: signature in headers, body fields status / transaction_id /
// reference_id / amount.
type ipaymuBinding struct {
	scheme   *HeaderScheme
	currency string
}

func NewIPaymuBinding(cfg config.GatewayConfig, currency string) Binding {
	return &ipaymuBinding{
		scheme:   NewHeaderScheme(cfg.MerchantKey, cfg.Secret),
		currency: currency,
	}
}

func (b *ipaymuBinding) Name() string                { return GatewayIPaymu }
func (b *ipaymuBinding) Scheme() SigningScheme       { return b.scheme }
func (b *ipaymuBinding) Statuses() model.StatusTable { return ipaymuStatuses }

func (b *ipaymuBinding) ParseEvent(body []byte) (model.GatewayEvent, error) {
	f, err := decodeFields(body)
	if err != nil {
		return model.GatewayEvent{}, err
	}
	amount, err := f.amount("amount")
	if err != nil {
		return model.GatewayEvent{}, err
	}
	txID := f.str("transaction_id")
	if txID == "" {
		txID = f.str("trx_id")
	}
	return validateEvent(model.GatewayEvent{
		TransactionID: txID,
		ReferenceID:   f.str("reference_id"),
		RawStatus:     f.str("status"),
		Amount:        amount,
		Currency:      b.currency,
	})
}
