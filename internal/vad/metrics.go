package vad

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricUtterances = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_vad_utterances_total",
		Help: "Utterances finalized and handed to the dialogue engine",
	})

	metricVoiceStarts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_vad_voice_starts_total",
		Help: "Confirmed voice onsets",
	})

	metricTooShort = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_vad_too_short_total",
		Help: "Voiced spans dropped for falling below the minimum length",
	})

	metricSanityDiscards = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_vad_sanity_discards_total",
		Help: "Frames discarded for RMS above the sanity cap",
	})

	metricCalibrations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_vad_calibrations_total",
		Help: "Completed noise calibrations",
	})

	gaugeThreshold = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bridge_vad_threshold",
		Help: "Current dynamic silence threshold (PCM RMS units)",
	})
)
