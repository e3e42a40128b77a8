// Package notify publishes job lifecycle events to RabbitMQ so other
// systems (CRM sync, analytics) can react without polling our API.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"revintel/pkg/domain"
)

const exchangeName = "revintel.jobs"

// JobEvent is the message body published for every lifecycle change.
type JobEvent struct {
	JobID      string           `json:"jobId"`
	Kind       domain.JobKind   `json:"kind"`
	CustomerID string           `json:"customerId"`
	Status     domain.JobStatus `json:"status"`
	Error      string           `json:"error,omitempty"`
	OccurredAt time.Time        `json:"occurredAt"`
}

// Publisher sends job events. Implementations must be safe for
// concurrent use.
type Publisher interface {
	PublishJobEvent(ctx context.Context, ev JobEvent) error
	Close() error
}

// AMQPPublisher publishes to a topic exchange with routing key
// "job.<kind>.<status>".
type AMQPPublisher struct {
	conn    *amqp.Connection
	channel *amqp.Channel
}

// NewAMQPPublisher dials the broker and declares the exchange.
func NewAMQPPublisher(url string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchangeName, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &AMQPPublisher{conn: conn, channel: ch}, nil
}

func (p *AMQPPublisher) PublishJobEvent(ctx context.Context, ev JobEvent) error {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	routingKey := fmt.Sprintf("job.%s.%s", ev.Kind, ev.Status)
	return p.channel.PublishWithContext(ctx, exchangeName, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    ev.OccurredAt,
		Body:         body,
	})
}

func (p *AMQPPublisher) Close() error {
	if err := p.channel.Close(); err != nil {
		p.conn.Close()
		return err
	}
	return p.conn.Close()
}

// NopPublisher drops events. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) PublishJobEvent(context.Context, JobEvent) error { return nil }
func (NopPublisher) Close() error                                    { return nil }
