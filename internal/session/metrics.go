package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bridge_sessions_active",
		Help: "Live call sessions",
	})

	metricFramesIn = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_session_frames_in_total",
		Help: "Inbound media frames accepted",
	})

	metricFramesOut = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_session_frames_out_total",
		Help: "Outbound frames written to the carrier",
	})

	metricUnknownEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_session_unknown_events_total",
		Help: "Ingress events with an unrecognized tag",
	})

	metricUtterancesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_session_utterances_dropped_total",
		Help: "Utterances dropped because the dialogue driver was busy",
	})

	metricStateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_session_state_transitions_total",
		Help: "Session lifecycle transitions by target state",
	}, []string{"to"})
)
