// Package telemetry holds the process-wide Prometheus metrics and the
// OpenTelemetry trace exporter setup.
package telemetry

import "github.com/prometheus/client_golang/prometheus"

// turnBuckets covers completion latencies from sub-second to slow
// streaming generations.
var turnBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}

// Chat turn metrics.
var (
	TurnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "parley",
			Name:      "turns_total",
			Help:      "Chat turns processed, by transport and outcome.",
		},
		[]string{"transport", "outcome"},
	)

	TurnDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "parley",
			Name:      "turn_duration_seconds",
			Help:      "End-to-end chat turn duration in seconds.",
			Buckets:   turnBuckets,
		},
		[]string{"transport"},
	)

	ActiveStreams = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "parley",
			Name:      "active_streams",
			Help:      "Currently open streaming connections.",
		},
	)

	QuotaRejectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "parley",
			Name:      "quota_rejections_total",
			Help:      "Turns rejected because the daily message cap was reached.",
		},
	)

	ModelFallbacksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "parley",
			Name:      "model_fallbacks_total",
			Help:      "Completions retried against the fallback model.",
		},
	)

	CompactionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "parley",
			Name:      "compactions_total",
			Help:      "Conversations compacted into a summary.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		TurnsTotal,
		TurnDuration,
		ActiveStreams,
		QuotaRejectionsTotal,
		ModelFallbacksTotal,
		CompactionsTotal,
	)
}
