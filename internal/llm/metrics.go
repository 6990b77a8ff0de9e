package llm

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricFirstTokenMS = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bridge_llm_first_token_ms",
		Help:    "Latency from request to first streamed token",
		Buckets: prometheus.ExponentialBuckets(50, 1.6, 10),
	})

	metricErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_llm_stream_errors_total",
		Help: "Completion streams that ended with an error",
	})
)
