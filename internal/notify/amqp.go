package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"cabinbook/internal/events"
	"cabinbook/internal/metrics"
)

// Channel is the subset of *amqp.Channel the sink publishes through.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Envelope is the message body sent to the broker.
type Envelope struct {
	ID        int64           `json:"id"`
	Type      string          `json:"type"`
	CreatedAt time.Time       `json:"created_at"`
	Payload   json.RawMessage `json:"payload"`
}

// AMQPSink fans every lifecycle event out to a durable queue.
type AMQPSink struct {
	conn    *amqp.Connection
	ch      Channel
	queue   string
	timeout time.Duration
	logger  zerolog.Logger
}

// DialAMQP connects to the broker and declares queue.
func DialAMQP(url, queue string, logger zerolog.Logger) (*AMQPSink, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp declare %s: %w", queue, err)
	}
	sink := NewAMQPSink(ch, queue, logger)
	sink.conn = conn
	return sink, nil
}

func NewAMQPSink(ch Channel, queue string, logger zerolog.Logger) *AMQPSink {
	return &AMQPSink{
		ch:      ch,
		queue:   queue,
		timeout: 5 * time.Second,
		logger:  logger.With().Str("component", "amqp_sink").Str("queue", queue).Logger(),
	}
}

// Handle publishes ev as a persistent JSON message.
func (s *AMQPSink) Handle(ev events.Event) error {
	body, err := json.Marshal(Envelope{ID: ev.ID, Type: ev.Type, CreatedAt: ev.CreatedAt.UTC(), Payload: ev.Payload})
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	err = s.ch.PublishWithContext(ctx, "", s.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    ev.CreatedAt.UTC(),
		Type:         ev.Type,
		Body:         body,
	})
	metrics.IncNotification("amqp", err == nil)
	if err != nil {
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	return nil
}

func (s *AMQPSink) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}
