package bus

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/stayware/bookingest/internal/logger"
)

// Handler processes one delivery and must ack, nack, or reject it before
// returning. With prefetch=1 the broker withholds the next message until
// the current one is settled.
type Handler func(ctx context.Context, d amqp.Delivery)

// Consumer drives a single consumer session on one queue.
type Consumer struct {
	ch       *amqp.Channel
	queue    string
	prefetch int
}

// NewConsumer opens a dedicated channel with the configured prefetch.
func NewConsumer(conn *Connection, queue string, prefetch int) (*Consumer, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}

	if err := ch.Qos(prefetch, 0, false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to set prefetch on %s: %w", queue, err)
	}

	return &Consumer{ch: ch, queue: queue, prefetch: prefetch}, nil
}

// Run consumes deliveries until ctx is cancelled or the channel closes.
// Cancellation stops the broker feed first so no new work is claimed while
// the in-flight delivery finishes.
func (c *Consumer) Run(ctx context.Context, handler Handler) error {
	deliveries, err := c.ch.ConsumeWithContext(ctx, c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume from %s: %w", c.queue, err)
	}

	logger.Info("Consuming", logger.KeyQueue, c.queue, "prefetch", c.prefetch)

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				// Channel closed underneath us: surface it so the
				// supervisor can decide to shut down.
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("consumer channel for %s closed", c.queue)
			}
			handler(ctx, d)
		}
	}
}

// Close releases the consumer channel.
func (c *Consumer) Close() error {
	return c.ch.Close()
}
