package marks

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricAcked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_marks_acked_total",
		Help: "Marks acknowledged by the carrier",
	})

	metricTimedOut = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_marks_timeout_total",
		Help: "Marks whose acknowledgement never arrived in time",
	})
)
