package dialogue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricUtterances = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_dialogue_utterances_total",
		Help: "Caller utterances handed to the pipeline",
	})

	metricEmptyTranscripts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_dialogue_empty_transcripts_total",
		Help: "Utterances dropped because STT heard nothing",
	})

	metricReplies = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_dialogue_replies_total",
		Help: "Bot replies with at least one spoken sentence",
	})

	metricApologies = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_dialogue_apologies_total",
		Help: "Canned apology replies after upstream failures",
	})

	metricInterrupts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_dialogue_interrupts_total",
		Help: "Replies aborted by barge-in",
	})

	metricChunksOut = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_dialogue_chunks_out_total",
		Help: "Outbound audio chunks written to the carrier",
	})

	metricMarkResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_dialogue_mark_results_total",
		Help: "Mark waits by outcome",
	}, []string{"result"})
)
