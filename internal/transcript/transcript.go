// Package transcript persists what was said on a call. Rows go out as they
// happen so downstream consumers (care staff dashboard, analytics) see the
// conversation live; a summary follows when the call ends.
package transcript

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	SpeakerUser = "user"
	SpeakerBot  = "bot"
)

// Row is one spoken turn.
type Row struct {
	ID        string    `json:"id"`
	CallID    string    `json:"call_id"`
	Speaker   string    `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Summary is published once per call at teardown.
type Summary struct {
	CallID    string    `json:"call_id"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
	UserTurns int       `json:"user_turns"`
	BotTurns  int       `json:"bot_turns"`
	BargeIns  int       `json:"barge_ins"`
}

// Sink receives transcript rows and call summaries. Publish failures must not
// take the call down; callers log and move on.
type Sink interface {
	PublishRow(ctx context.Context, row Row) error
	PublishSummary(ctx context.Context, s Summary) error
	Close() error
}

// LogSink writes transcript rows to the process log. Used when no AMQP
// broker is configured.
type LogSink struct {
	log *logrus.Entry
}

func NewLogSink(log *logrus.Entry) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) PublishRow(_ context.Context, row Row) error {
	s.log.WithFields(logrus.Fields{
		"call_id": row.CallID,
		"speaker": row.Speaker,
	}).Info(row.Text)
	return nil
}

func (s *LogSink) PublishSummary(_ context.Context, sum Summary) error {
	s.log.WithFields(logrus.Fields{
		"call_id":    sum.CallID,
		"duration_s": sum.EndedAt.Sub(sum.StartedAt).Seconds(),
		"user_turns": sum.UserTurns,
		"bot_turns":  sum.BotTurns,
		"barge_ins":  sum.BargeIns,
	}).Info("call finished")
	return nil
}

func (s *LogSink) Close() error { return nil }
