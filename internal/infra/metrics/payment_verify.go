package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		WebhookRequests,
		WebhookDuration,
	)
}

var (
	// Count of webhook calls grouped by gateway and HTTP status class.
	// code: 200|400|401|404|429|503
	WebhookRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_webhook_requests_total",
			Help: "Count of /webhooks/{gateway} calls by gateway and response code.",
		},
		[]string{"gateway", "code"},
	)

	// Latency of the webhook handler grouped by gateway.
	WebhookDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payment_webhook_duration_seconds",
			Help:    "Duration of /webhooks/{gateway} handler in seconds.",
			Buckets: []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"gateway"},
	)
)
