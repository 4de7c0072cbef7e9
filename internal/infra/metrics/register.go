package metrics

import (
	"runtime"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once       sync.Once
	collectors []prometheus.Collector
)

// register queues collectors from each file's init; nothing is exported to
// Prometheus until MustRegister.
func register(cs ...prometheus.Collector) {
	collectors = append(collectors, cs...)
}

// MustRegister adds every queued collector to the default registry once.
func MustRegister() {
	once.Do(func() {
		prometheus.MustRegister(collectors...)
	})
}

func init() { register(buildInfo) }

var buildInfo = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "coursepay_build_info",
		Help: "Always 1, labeled with the running build.",
	},
	[]string{"version", "commit", "go_version"},
)

func SetBuildInfo(version, commit string) {
	buildInfo.WithLabelValues(version, commit, runtime.Version()).Set(1)
}

func norm(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
