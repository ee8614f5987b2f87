package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "actionhub_runs_total",
			Help: "Total number of pipeline runs by action and status.",
		},
		[]string{"action", "status"}, // status: success, failed, stale, noop
	)

	ChunksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "actionhub_chunks_total",
			Help: "Total number of source chunks processed by action and result.",
		},
		[]string{"action", "result"}, // result: delivered, failed
	)

	StaleGateTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "actionhub_stale_gate_total",
			Help: "Total number of runs aborted by the freshness gate.",
		},
	)

	AlreadyRanTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "actionhub_already_ran_total",
			Help: "Total number of runs short-circuited by the once-per-day check.",
		},
	)

	LedgerRowsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "actionhub_ledger_rows_total",
			Help: "Total number of audit rows appended to the warehouse.",
		},
	)

	ReconcileRemovalsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "actionhub_reconcile_removals_total",
			Help: "Total number of audience members removed by reconciliation.",
		},
	)

	DestinationLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "actionhub_destination_send_seconds",
			Help:    "Latency of destination send calls.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"action"},
	)
)

func MustRegister(reg *prometheus.Registry) {
	reg.MustRegister(
		RunsTotal, ChunksTotal, StaleGateTotal, AlreadyRanTotal,
		LedgerRowsTotal, ReconcileRemovalsTotal, DestinationLatency,
	)
}

// RecordRun increments the run counter for an action outcome
func RecordRun(action, status string) {
	RunsTotal.WithLabelValues(action, status).Inc()
}

// RecordChunk increments the chunk counter for a per-chunk result
func RecordChunk(action, result string) {
	ChunksTotal.WithLabelValues(action, result).Inc()
}
