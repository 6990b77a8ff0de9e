package turn

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricBargeIns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_barge_in_total",
		Help: "Confirmed barge-in events",
	})

	metricGatedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_echo_gated_frames_total",
		Help: "Voice-classified frames observed while the echo guard was active",
	})
)
