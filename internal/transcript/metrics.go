package transcript

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_transcript_published_total",
		Help: "Messages published to the transcript exchange",
	}, []string{"kind"})

	metricPublishErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_transcript_publish_errors_total",
		Help: "Failed transcript publishes",
	})
)
