package objectstore

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"time"

	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/stayware/bookingest/internal/logger"
)

// retryConfig bounds the in-process retry loop for transient S3 errors.
type retryConfig struct {
	maxAttempts int           // total attempts, including the first
	baseDelay   time.Duration // backoff before the first retry
	maxDelay    time.Duration // cap on the exponential backoff
}

// withRetry runs op, retrying transient failures with exponential backoff
// and ±25% jitter. Validation and 4xx errors surface immediately.
func (c retryConfig) withRetry(ctx context.Context, name string, op func() error) error {
	var lastErr error

	attempts := c.maxAttempts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := c.backoff(attempt)
			logger.Warn("Retrying object store operation",
				"op", name, "attempt", attempt+1, "delay", delay, logger.KeyError, lastErr)

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isRetryable(lastErr) {
			return lastErr
		}
	}

	return lastErr
}

// backoff computes base*2^(attempt-1), capped, with ±25% jitter.
func (c retryConfig) backoff(attempt int) time.Duration {
	delay := c.baseDelay << (attempt - 1)
	if delay > c.maxDelay {
		delay = c.maxDelay
	}

	jitter := 0.75 + rand.Float64()*0.5
	return time.Duration(float64(delay) * jitter)
}

// isRetryable classifies an S3 error as transient. Server-side 5xx and
// throttling are retryable; transport-level failures (connection reset, DNS)
// are retryable; anything the service rejected as a client fault is not.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		code := respErr.HTTPStatusCode()
		return code >= http.StatusInternalServerError || code == http.StatusTooManyRequests
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "SlowDown", "InternalError", "ServiceUnavailable", "RequestTimeout":
			return true
		}
		// API errors without a transient code are client faults.
		return false
	}

	// No service response at all: the request never made it, retry.
	return true
}
