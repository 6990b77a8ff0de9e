package transcript

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"
)

const (
	routingKeyRow     = "transcript.row"
	routingKeySummary = "call.summary"
)

// AMQPSink publishes rows and summaries to a topic exchange.
type AMQPSink struct {
	log      *logrus.Entry
	exchange string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewAMQPSink(url, exchange string, log *logrus.Entry) (*AMQPSink, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("transcript: amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("transcript: amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("transcript: declare exchange: %w", err)
	}
	return &AMQPSink{log: log, exchange: exchange, conn: conn, ch: ch}, nil
}

func (s *AMQPSink) PublishRow(ctx context.Context, row Row) error {
	return s.publish(ctx, routingKeyRow, row)
}

func (s *AMQPSink) PublishSummary(ctx context.Context, sum Summary) error {
	return s.publish(ctx, routingKeySummary, sum)
}

func (s *AMQPSink) publish(ctx context.Context, key string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("transcript: marshal: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	err = s.ch.Publish(s.exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
	})
	if err != nil {
		metricPublishErrors.Inc()
		return fmt.Errorf("transcript: publish %s: %w", key, err)
	}
	metricPublished.WithLabelValues(key).Inc()
	return nil
}

func (s *AMQPSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch != nil {
		s.ch.Close()
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
