package reorder

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricStaleDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_reorder_stale_dropped_total",
		Help: "Media frames dropped because their sequence was already released",
	})

	metricGapHeld = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_reorder_gap_held_total",
		Help: "Pushes that left frames buffered behind a sequence gap",
	})

	metricOutOfOrderFlushes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_reorder_ooo_flushes_total",
		Help: "Times the buffer gave up on a gap and released out of order",
	})
)
