package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

func init() {
	register(
		ingestOutcomesTotal,
		unknownStatusTotal,
		paymentsRevenueTotal,
		entitlementRetriesTotal,
		reconciliationAlertsTotal,
	)
}

var (
	ingestOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_ingest_outcomes_total",
			Help: "Handled gateway notifications by gateway and outcome.",
		},
		[]string{"gateway", "outcome"},
	)

	unknownStatusTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_unknown_status_total",
			Help: "Notifications whose raw status is missing from the gateway table.",
		},
		[]string{"gateway"},
	)

	paymentsRevenueTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_revenue_total",
			Help: "The total monetary value of newly succeeded payments, labeled by currency.",
		},
		[]string{"currency"},
	)

	entitlementRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entitlement_write_retries_total",
			Help: "Optimistic-concurrency retries of entitlement writes by result.",
		},
		[]string{"result"}, // retry, exhausted
	)

	reconciliationAlertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_reconciliation_alerts_total",
			Help: "Alerts raised for payments needing manual reconciliation.",
		},
		[]string{"gateway", "reason"},
	)
)

func IncIngestOutcome(gateway, outcome string) {
	ingestOutcomesTotal.WithLabelValues(norm(gateway), norm(outcome)).Inc()
}

func IncUnknownStatus(gateway string) {
	unknownStatusTotal.WithLabelValues(norm(gateway)).Inc()
}

func AddPaymentRevenue(currency string, amount decimal.Decimal) {
	f, _ := amount.Float64()
	paymentsRevenueTotal.WithLabelValues(norm(currency)).Add(f)
}

func IncEntitlementRetry(result string) {
	entitlementRetriesTotal.WithLabelValues(norm(result)).Inc()
}

func IncReconciliationAlert(gateway, reason string) {
	reconciliationAlertsTotal.WithLabelValues(norm(gateway), norm(reason)).Inc()
}
