// Package metrics exposes Prometheus collectors for the store. A
// binary opts in by calling Register once and, optionally, Serve to
// start a scrape endpoint.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Node metrics
	NodeRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quartzkv_node_requests_total",
			Help: "Requests processed by a data node, by command and status",
		},
		[]string{"cmd", "status"},
	)

	NodeLockConflictsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quartzkv_node_lock_conflicts_total",
			Help: "LOCK requests refused because another transaction held the key",
		},
	)

	NodeConnectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "quartzkv_node_connections_active",
			Help: "Currently open client connections on a data node",
		},
	)

	// Coordinator metrics
	CoordCommitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quartzkv_coord_commits_total",
			Help: "OCC transactions committed by the coordinator",
		},
	)

	CoordAbortsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quartzkv_coord_aborts_total",
			Help: "OCC transactions aborted during backward validation",
		},
	)

	CoordWriteErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quartzkv_coord_write_errors_total",
			Help: "Commit attempts that failed while applying writes to nodes",
		},
	)

	CoordCommitSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "quartzkv_coord_commit_seconds",
			Help:    "Wall time of the coordinator commit critical section",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		},
	)

	// Benchmark metrics
	BenchTxTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quartzkv_bench_transactions_total",
			Help: "Benchmark transactions by mode and outcome",
		},
		[]string{"mode", "outcome"},
	)
)

// Register registers all collectors with the default registry
func Register() {
	prometheus.MustRegister(
		NodeRequestsTotal,
		NodeLockConflictsTotal,
		NodeConnectionsActive,
		CoordCommitsTotal,
		CoordAbortsTotal,
		CoordWriteErrorsTotal,
		CoordCommitSeconds,
		BenchTxTotal,
	)
}

// Serve starts a scrape endpoint on addr. Blocks; run in a goroutine.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, mux)
}
