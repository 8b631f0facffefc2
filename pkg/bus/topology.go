// Package bus wraps the AMQP message bus: connection management, the
// exchange/queue topology, publishing, and consuming.
package bus

import (
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange, queue, and routing-key names. Declared durably at startup by
// both the api and worker binaries; declarations are idempotent.
const (
	// ExchangeEvents receives every outbox event (fanout).
	ExchangeEvents = "x.events"

	// ExchangeWorker routes events to worker queues by routing key (topic).
	ExchangeWorker = "x.worker"

	// ExchangeDLQ receives rejected messages and expired retries (topic).
	ExchangeDLQ = "x.dlq"

	// QueueWorkerTask is the shared competing-consumers task queue.
	QueueWorkerTask = "q.worker.task"

	// QueueDLQWorkerTask holds rejected task messages for the retry delay.
	QueueDLQWorkerTask = "q.dlq.worker-task"

	// BindEventPattern matches every event routing key (task.created.event,
	// ...) on the worker exchange.
	BindEventPattern = "#.event"

	// KeyDLQDelay routes a rejected message into the delay queue.
	KeyDLQDelay = "dlq-delay"

	// KeyDLQPublish routes an expired retry back toward the task queue.
	KeyDLQPublish = "dlq-publish"

	// RetryDelay is how long a rejected message sits in the delay queue
	// before redelivery.
	RetryDelay = 120 * time.Second
)

// DeclareTopology declares all exchanges, queues, and bindings.
//
// Retry trajectory: q.worker.task -> (reject, requeue=false) -> x.dlq
// [dlq-delay] -> q.dlq.worker-task -> (TTL expiry) -> x.dlq [dlq-publish]
// -> x.worker -> q.worker.task. The delay queue is the retry timer; no
// retry count is tracked.
func DeclareTopology(ch *amqp.Channel) error {
	// Exchanges
	if err := ch.ExchangeDeclare(ExchangeEvents, "fanout", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare %s: %w", ExchangeEvents, err)
	}
	if err := ch.ExchangeDeclare(ExchangeWorker, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare %s: %w", ExchangeWorker, err)
	}
	if err := ch.ExchangeDeclare(ExchangeDLQ, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare %s: %w", ExchangeDLQ, err)
	}

	// Exchange-to-exchange bindings: events fan into the worker exchange,
	// and expired retries are fed back through it.
	if err := ch.ExchangeBind(ExchangeWorker, BindEventPattern, ExchangeEvents, false, nil); err != nil {
		return fmt.Errorf("failed to bind %s -> %s: %w", ExchangeEvents, ExchangeWorker, err)
	}
	if err := ch.ExchangeBind(ExchangeWorker, KeyDLQPublish, ExchangeDLQ, false, nil); err != nil {
		return fmt.Errorf("failed to bind %s -> %s: %w", ExchangeDLQ, ExchangeWorker, err)
	}

	// Task queue: rejected messages dead-letter into the delay queue.
	_, err := ch.QueueDeclare(QueueWorkerTask, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    ExchangeDLQ,
		"x-dead-letter-routing-key": KeyDLQDelay,
	})
	if err != nil {
		return fmt.Errorf("failed to declare %s: %w", QueueWorkerTask, err)
	}
	if err := ch.QueueBind(QueueWorkerTask, BindEventPattern, ExchangeWorker, false, nil); err != nil {
		return fmt.Errorf("failed to bind %s: %w", QueueWorkerTask, err)
	}
	if err := ch.QueueBind(QueueWorkerTask, KeyDLQPublish, ExchangeWorker, false, nil); err != nil {
		return fmt.Errorf("failed to bind %s on %s: %w", QueueWorkerTask, KeyDLQPublish, err)
	}

	// Delay queue: messages expire after RetryDelay and dead-letter back
	// toward the task queue.
	_, err = ch.QueueDeclare(QueueDLQWorkerTask, true, false, false, false, amqp.Table{
		"x-message-ttl":             int32(RetryDelay / time.Millisecond),
		"x-dead-letter-exchange":    ExchangeDLQ,
		"x-dead-letter-routing-key": KeyDLQPublish,
	})
	if err != nil {
		return fmt.Errorf("failed to declare %s: %w", QueueDLQWorkerTask, err)
	}
	if err := ch.QueueBind(QueueDLQWorkerTask, KeyDLQDelay, ExchangeDLQ, false, nil); err != nil {
		return fmt.Errorf("failed to bind %s: %w", QueueDLQWorkerTask, err)
	}

	return nil
}
