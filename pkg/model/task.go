// Package model defines the persistent and wire-level types shared by the
// upload ingress, the outbox dispatcher, and the task processor.
package model

import (
	"time"
)

// TaskStatus is the lifecycle state of a Task.
//
// Transitions are monotone: PENDING -> IN_PROGRESS -> (COMPLETED | FAILED).
// Terminal states never revert.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "PENDING"
	TaskStatusInProgress TaskStatus = "IN_PROGRESS"
	TaskStatusCompleted  TaskStatus = "COMPLETED"
	TaskStatusFailed     TaskStatus = "FAILED"
)

// IsTerminal reports whether the status is COMPLETED or FAILED.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// TaskError is a single row-level or file-level processing error.
// Row is nil for file-level errors (empty sheet, corrupt workbook).
type TaskError struct {
	Row   *int   `bson:"row" json:"row"`
	Error string `bson:"error" json:"error"`
}

// RowError builds a TaskError bound to a 1-indexed spreadsheet row.
func RowError(row int, msg string) TaskError {
	return TaskError{Row: &row, Error: msg}
}

// FileError builds a file-level TaskError with no row reference.
func FileError(msg string) TaskError {
	return TaskError{Error: msg}
}

// Task is a unit of user-visible work: one uploaded spreadsheet to ingest.
//
// The (WorkerID, ProcessingAt) pair is the claim lease; both are nil while
// the task is unclaimed. The lease is only ever mutated through atomic
// conditional updates on the store.
type Task struct {
	TaskID           string      `bson:"taskId" json:"taskId"`
	FilePath         string      `bson:"filePath" json:"filePath"`
	OriginalFileName string      `bson:"originalFileName" json:"originalFileName"`
	Status           TaskStatus  `bson:"status" json:"status"`
	Errors           []TaskError `bson:"errors" json:"errors"`

	WorkerID     *string    `bson:"workerId" json:"workerId,omitempty"`
	ProcessingAt *time.Time `bson:"processingAt" json:"processingAt,omitempty"`

	StartedAt   *time.Time `bson:"startedAt" json:"startedAt,omitempty"`
	CompletedAt *time.Time `bson:"completedAt" json:"completedAt,omitempty"`
	CreatedAt   time.Time  `bson:"createdAt" json:"createdAt"`
	UpdatedAt   time.Time  `bson:"updatedAt" json:"updatedAt"`
}
