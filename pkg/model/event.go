package model

import (
	"encoding/json"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// EventStatus is the lifecycle state of an outbox event.
//
// The dispatcher drives NEW -> PROCESSING -> PUBLISHED; stale-claim recovery
// moves PROCESSING back to NEW after the lease expires. The consumer marks
// PUBLISHED events PROCESSED, on success and on non-retryable failure alike
// (the Error field distinguishes the two). FAILED is reserved for permanent
// dispatch failures and is not produced by the default pipeline.
type EventStatus string

const (
	EventStatusNew        EventStatus = "NEW"
	EventStatusProcessing EventStatus = "PROCESSING"
	EventStatusPublished  EventStatus = "PUBLISHED"
	EventStatusProcessed  EventStatus = "PROCESSED"
	EventStatusFailed     EventStatus = "FAILED"
)

// EventNameTaskCreated routes task-created events to the worker queue.
const EventNameTaskCreated = "task.created.event"

// EventError carries a serialized processing failure on a terminal event.
type EventError struct {
	Message string      `bson:"message" json:"message"`
	Details []TaskError `bson:"details,omitempty" json:"details,omitempty"`
}

// OutboxEvent is a durable intent-to-publish, created in the same store
// transaction as the business write it announces.
type OutboxEvent struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	EventName string             `bson:"eventName" json:"eventName"`
	Event     EventEnvelope      `bson:"event" json:"event"`
	Status    EventStatus        `bson:"status" json:"status"`

	WorkerID     *string    `bson:"workerId" json:"workerId,omitempty"`
	ProcessingAt *time.Time `bson:"processingAt" json:"processingAt,omitempty"`

	PublishedAt *time.Time  `bson:"publishedAt" json:"publishedAt,omitempty"`
	ProcessedAt *time.Time  `bson:"processedAt" json:"processedAt,omitempty"`
	CreatedAt   time.Time   `bson:"createdAt" json:"createdAt"`
	Error       *EventError `bson:"error" json:"error,omitempty"`
}

// EventEnvelope is the payload wrapper embedded in the outbox record and
// published verbatim to the bus. EventID is filled from the store-assigned
// identifier at publish time.
type EventEnvelope struct {
	EventID   string          `bson:"eventId,omitempty" json:"eventId"`
	EventName string          `bson:"eventName" json:"eventName"`
	Payload   json.RawMessage `bson:"payload" json:"payload"`
}

// TaskCreatedPayload is the payload of a task.created.event envelope.
type TaskCreatedPayload struct {
	TaskID           string `json:"taskId"`
	FilePath         string `json:"filePath"`
	OriginalFileName string `json:"originalFileName"`
}

// NewTaskCreatedEvent builds a NEW outbox event announcing a freshly
// committed task.
func NewTaskCreatedEvent(p TaskCreatedPayload, now time.Time) (*OutboxEvent, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal task created payload: %w", err)
	}

	return &OutboxEvent{
		EventName: EventNameTaskCreated,
		Event: EventEnvelope{
			EventName: EventNameTaskCreated,
			Payload:   raw,
		},
		Status:    EventStatusNew,
		CreatedAt: now,
	}, nil
}

// DecodePayload unmarshals the envelope payload into v.
func (e *EventEnvelope) DecodePayload(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("event %s has empty payload", e.EventID)
	}
	return json.Unmarshal(e.Payload, v)
}
