package queue

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Publisher fires a domain event at a topic.  Implementations must not
// block the caller beyond the context deadline and must treat delivery
// as best effort.
type Publisher interface {
	Publish(ctx context.Context, topic string, event BookingEvent) error
}

// AMQPPublisher publishes events to RabbitMQ, one durable queue per
// topic, messages persistent.  A connection is dialed per publish; the
// engine publishes only after commit and off the request path, so the
// dial cost never sits inside a booking transaction.
type AMQPPublisher struct {
	url string
	log *zap.Logger
}

// NewAMQPPublisher returns a publisher targeting the broker at url.
func NewAMQPPublisher(url string, log *zap.Logger) *AMQPPublisher {
	return &AMQPPublisher{url: url, log: log}
}

// Publish declares the topic queue and sends the event as persistent
// JSON.  Errors are returned so the caller can log them; they carry no
// other consequence.
func (p *AMQPPublisher) Publish(ctx context.Context, topic string, event BookingEvent) error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	defer func() { _ = ch.Close() }()

	// Idempotent declare; durable so messages survive broker restarts.
	if _, err := ch.QueueDeclare(topic, true, false, false, false, nil); err != nil {
		return err
	}

	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return ch.PublishWithContext(ctx,
		"",    // default exchange
		topic, // routing key = queue name
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			Body:         body,
		},
	)
}

// NopPublisher drops every event.  Used when no broker is configured
// and in tests that do not assert on events.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, BookingEvent) error { return nil }
