package tts

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricLatencyMS = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bridge_tts_latency_ms",
		Help:    "ElevenLabs synthesis latency per sentence",
		Buckets: prometheus.ExponentialBuckets(50, 1.6, 10),
	})

	metricAudioBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_tts_audio_bytes_total",
		Help: "Raw 24kHz PCM bytes synthesized",
	})
)
