package logger

import (
	"context"
	"time"
)

// contextKey is a private type for context keys to avoid collisions
type contextKey struct{}

var logContextKey = contextKey{}

// LogContext holds request- or message-scoped logging context.
//
// The ingress attaches one per HTTP request; the task processor attaches one
// per consumed delivery. Fields left empty are omitted from output.
type LogContext struct {
	RequestID string    // HTTP request ID
	TaskID    string    // Task under processing
	EventID   string    // Outbox event identifier
	UploadID  string    // Chunked-upload session identifier
	WorkerID  string    // Claim lease owner
	ClientIP  string    // Client IP address (without port)
	StartTime time.Time // For duration calculation
}

// WithContext returns a new context carrying the given LogContext
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext from ctx, or nil if not present
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// NewLogContext creates a LogContext stamped with the current time
func NewLogContext() *LogContext {
	return &LogContext{StartTime: time.Now()}
}

// Clone creates a copy of the LogContext
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	c := *lc
	return &c
}

// WithTask returns a copy with the task ID set
func (lc *LogContext) WithTask(taskID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.TaskID = taskID
	}
	return clone
}

// WithEvent returns a copy with the event ID set
func (lc *LogContext) WithEvent(eventID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.EventID = eventID
	}
	return clone
}

// DurationMs returns the duration since StartTime in milliseconds
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return float64(time.Since(lc.StartTime).Microseconds()) / 1000.0
}
