package bus

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/stayware/bookingest/internal/logger"
	"github.com/stayware/bookingest/pkg/config"
)

// Connection wraps an AMQP connection with topology declaration and
// closure observation.
//
// The pipeline treats an unexpected broker disconnect as fatal: the outbox
// keeps events durable, so the cheapest correct recovery is a process
// restart by the orchestrator rather than in-process rewiring.
type Connection struct {
	conn *amqp.Connection

	mu     sync.Mutex
	closed bool

	// lost is closed when the broker drops the connection unexpectedly.
	lost chan *amqp.Error
}

// Dial connects to the broker and declares the full topology.
func Dial(ctx context.Context, cfg config.RabbitConfig) (*Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	if err := DeclareTopology(ch); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare topology: %w", err)
	}

	c := &Connection{
		conn: conn,
		lost: make(chan *amqp.Error, 1),
	}
	conn.NotifyClose(c.lost)

	logger.Info("Connected to RabbitMQ")
	return c, nil
}

// Channel opens a new channel on the connection.
func (c *Connection) Channel() (*amqp.Channel, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	return ch, nil
}

// Lost yields the broker-side close error when the connection drops.
// A deliberate Close does not fire it with an error.
func (c *Connection) Lost() <-chan *amqp.Error {
	return c.lost
}

// Close shuts the connection down. Safe to call more than once.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}
