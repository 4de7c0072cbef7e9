package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(catalogCacheTotal, dbConnections) }

var (
	catalogCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coursepay_catalog_cache_total",
			Help: "Course catalog cache lookups by entry and result.",
		},
		[]string{"entry", "result"}, // entry: course | course_ids, result: hit | miss
	)

	dbConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "coursepay_db_connections",
			Help: "Postgres pool connections by state.",
		},
		[]string{"state"},
	)
)

func IncCacheRequest(entry, result string) {
	catalogCacheTotal.WithLabelValues(norm(entry), norm(result)).Inc()
}

// PoolStat is the subset of pgxpool.Stat reported as gauges.
type PoolStat interface {
	TotalConns() int32
	IdleConns() int32
	AcquiredConns() int32
	MaxConns() int32
}

func ObservePool(s PoolStat) {
	dbConnections.WithLabelValues("total").Set(float64(s.TotalConns()))
	dbConnections.WithLabelValues("idle").Set(float64(s.IdleConns()))
	dbConnections.WithLabelValues("acquired").Set(float64(s.AcquiredConns()))
	dbConnections.WithLabelValues("max").Set(float64(s.MaxConns()))
}
