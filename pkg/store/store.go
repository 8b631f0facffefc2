// Package store defines the persistence interfaces the pipeline components
// depend on. The production implementation backed by MongoDB lives in the
// mongo subpackage; tests substitute in-memory fakes.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/stayware/bookingest/pkg/model"
)

// Sentinel errors shared by all implementations.
var (
	// ErrTaskNotFound is returned by Get when no task matches.
	ErrTaskNotFound = errors.New("task not found")

	// ErrNotClaimed signals that a conditional update matched no document:
	// another worker holds the claim, or the record moved on. The caller
	// must yield.
	ErrNotClaimed = errors.New("claim lost or already taken")

	// ErrWriteConflict wraps a transient transaction conflict. Callers may
	// retry the whole transaction; the task processor routes it through the
	// delayed-retry queue instead of failing the task.
	ErrWriteConflict = errors.New("transient write conflict")
)

// Tasks persists Task records.
//
// Claim and Finalize mutate the (status, workerId, processingAt) triple only
// through atomic conditional updates; there is no row-level locking.
type Tasks interface {
	// CreateWithEvent atomically creates a task and its outbox event in one
	// store transaction. The dispatcher never observes a task without its
	// event, nor vice versa.
	CreateWithEvent(ctx context.Context, task *model.Task, event *model.OutboxEvent) error

	// Claim attempts PENDING -> IN_PROGRESS for taskID on behalf of
	// workerID. Returns ErrNotClaimed when no PENDING task matched.
	Claim(ctx context.Context, taskID, workerID string, now time.Time) error

	// Release hands a claimed task back to PENDING and clears the lease.
	// Only the claim holder may release; a later redelivery can then claim
	// the task again. Returns ErrNotClaimed when workerID does not hold
	// the claim.
	Release(ctx context.Context, taskID, workerID string, now time.Time) error

	// Finalize moves the task to COMPLETED or FAILED, records the collected
	// errors, and clears the claim lease. Returns ErrTaskNotFound when the
	// task vanished mid-transaction.
	Finalize(ctx context.Context, taskID string, status model.TaskStatus, errs []model.TaskError, now time.Time) error

	// Get returns the task by its public identifier.
	Get(ctx context.Context, taskID string) (*model.Task, error)
}

// Events persists outbox events and implements the dispatcher claim protocol.
type Events interface {
	// ClaimNewBatch atomically moves up to limit NEW events (oldest first)
	// to PROCESSING under workerID. Returns the number claimed. The
	// conditional status filter is the mutual-exclusion mechanism between
	// concurrent dispatchers.
	ClaimNewBatch(ctx context.Context, workerID string, limit int, now time.Time) (int64, error)

	// ListClaimed returns the PROCESSING events held by workerID whose
	// claim was taken at or before now, oldest first.
	ListClaimed(ctx context.Context, workerID string, now time.Time) ([]model.OutboxEvent, error)

	// MarkPublished moves one PROCESSING event owned by workerID to
	// PUBLISHED and clears the lease. Returns ErrNotClaimed when the
	// conditional update matched nothing (recovery interleaved).
	MarkPublished(ctx context.Context, id string, workerID string, now time.Time) error

	// RecoverStale hands PROCESSING events with a lease older than
	// threshold back to NEW. Returns the number recovered.
	RecoverStale(ctx context.Context, threshold time.Time) (int64, error)

	// MarkProcessed moves an event to its consumer-terminal PROCESSED
	// state, recording procErr when processing finished with errors.
	MarkProcessed(ctx context.Context, id string, procErr *model.EventError, now time.Time) error
}

// Reservations persists reservation records keyed by reservationId.
type Reservations interface {
	// Upsert creates or updates one reservation.
	Upsert(ctx context.Context, r *model.Reservation) error

	// UpsertMany creates or updates a batch of reservations.
	UpsertMany(ctx context.Context, rs []model.Reservation) error
}

// TxRunner runs fn inside a store transaction. The fn receives a context
// bound to the transaction session; store calls made with it join the
// transaction. fn returning an error aborts, nil commits.
type TxRunner interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
