package stt

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricLatencyMS = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bridge_stt_latency_ms",
		Help:    "Deepgram request latency",
		Buckets: prometheus.ExponentialBuckets(50, 1.6, 10),
	})

	metricRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_stt_retries_total",
		Help: "STT retry attempts after transient failures",
	})

	metricCircuitOpens = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_stt_circuit_opens_total",
		Help: "Times the STT failure window opened the circuit",
	})
)
