package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(reconcilerResumedTotal, reconcilerSweepsTotal, jobRunSeconds) }

var (
	reconcilerResumedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_reconciler_resumed_total",
			Help: "Pending grants re-driven by the reconciler, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	reconcilerSweepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_reconciler_sweeps_total",
			Help: "Reconciler sweeps by result.",
		},
		[]string{"result"}, // 'ok', 'error', 'skipped'
	)

	jobRunSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coursepay_job_run_seconds",
			Help:    "Duration of scheduled job runs.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30},
		},
		[]string{"job", "result"},
	)
)

func IncReconcilerResumed(outcome string) {
	reconcilerResumedTotal.WithLabelValues(norm(outcome)).Inc()
}

func IncReconcilerSweep(result string) {
	reconcilerSweepsTotal.WithLabelValues(norm(result)).Inc()
}

// ObserveJobRun records one scheduled run; err decides the result label.
func ObserveJobRun(job string, took time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	jobRunSeconds.WithLabelValues(norm(job), result).Observe(took.Seconds())
}
