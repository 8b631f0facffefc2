package bus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTopologyNames(t *testing.T) {
	t.Parallel()

	// These names are a wire contract shared with deployed brokers;
	// renaming any of them orphans existing queues.
	assert.Equal(t, "x.events", ExchangeEvents)
	assert.Equal(t, "x.worker", ExchangeWorker)
	assert.Equal(t, "x.dlq", ExchangeDLQ)
	assert.Equal(t, "q.worker.task", QueueWorkerTask)
	assert.Equal(t, "q.dlq.worker-task", QueueDLQWorkerTask)
	assert.Equal(t, "dlq-delay", KeyDLQDelay)
	assert.Equal(t, "dlq-publish", KeyDLQPublish)
}

func TestRetryDelay(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 120*time.Second, RetryDelay)
	// The queue argument is milliseconds on the wire.
	assert.Equal(t, int32(120000), int32(RetryDelay/time.Millisecond))
}
