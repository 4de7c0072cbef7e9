package adapter

import (
	"net/http"

	"coursepay/internal/domain/model"
)

// NotificationGateway is the inbound side of one payment gateway.
type NotificationGateway interface {
	Name() string
	// Authenticate checks the request signature; failures wrap domain.ErrInvalidSignature.
	Authenticate(method string, headers http.Header, body []byte) error
	// ParseEvent reads an authenticated body; failures wrap domain.ErrMalformedNotification.
	ParseEvent(body []byte) (model.GatewayEvent, error)
	Normalize(rawStatus string) model.PaymentStatus
}

// GatewayResolver finds a NotificationGateway by name; unknown names wrap
// domain.ErrUnknownGateway.
type GatewayResolver interface {
	Lookup(name string) (NotificationGateway, error)
}
