package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Registry = prometheus.NewRegistry()

	OpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "emberkv",
			Name:      "ops_total",
			Help:      "Total client operations routed by the cluster.",
		},
		[]string{"op", "outcome"},
	)

	ReplicaWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "emberkv",
			Name:      "replica_writes_total",
			Help:      "Per-replica write attempts fanned out by puts.",
		},
		[]string{"outcome"},
	)

	KeysMoved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "emberkv",
			Name:      "redistribution_keys_moved_total",
			Help:      "Keys transferred between nodes by membership changes.",
		},
		[]string{"event"},
	)

	RedistributionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "emberkv",
			Name:      "redistribution_duration_seconds",
			Help:      "Wall time of redistribution runs, per membership event.",
			// 100us .. ~6s; redistribution is WAL-flush bound
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16),
		},
		[]string{"event"},
	)

	ClusterNodes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "emberkv",
			Name:      "cluster_nodes",
			Help:      "Current number of nodes in the cluster.",
		},
	)

	startTime = time.Now()
	uptime    = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "emberkv",
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds.",
		},
		func() float64 { return time.Since(startTime).Seconds() },
	)
)

func init() {
	Registry.MustRegister(OpsTotal, ReplicaWrites, KeysMoved, RedistributionDuration, ClusterNodes, uptime)
}

// MetricsHandler exposes /metrics. Mount it with
// mux.Handle("/metrics", telemetry.MetricsHandler()).
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
