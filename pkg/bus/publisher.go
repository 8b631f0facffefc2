package bus

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher publishes JSON envelopes to an exchange with persistent
// delivery. Not safe for concurrent use: AMQP channels are not thread-safe,
// so each goroutine owns its own Publisher.
type Publisher struct {
	ch       *amqp.Channel
	exchange string
}

// NewPublisher opens a dedicated channel for publishing to exchange.
func NewPublisher(conn *Connection, exchange string) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	return &Publisher{ch: ch, exchange: exchange}, nil
}

// Publish marshals body to JSON and publishes it with the given routing key
// and the persistent delivery flag. The broker persists the message before
// any consumer sees it; the store remains the source of truth for whether
// it was ever sent.
func (p *Publisher) Publish(ctx context.Context, routingKey string, body any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal message for %s: %w", routingKey, err)
	}

	err = p.ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         raw,
	})
	if err != nil {
		return fmt.Errorf("failed to publish to %s with key %s: %w", p.exchange, routingKey, err)
	}
	return nil
}

// Close releases the publishing channel.
func (p *Publisher) Close() error {
	return p.ch.Close()
}
