package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/stayware/bookingest/pkg/model"
	"github.com/stayware/bookingest/pkg/store"
)

// TaskStore persists Task records on MongoDB.
type TaskStore struct {
	client *Client
	coll   *mongo.Collection
}

// NewTaskStore creates a TaskStore. The full client is needed (not just the
// database) because CreateWithEvent opens its own transaction.
func NewTaskStore(c *Client) *TaskStore {
	return &TaskStore{
		client: c,
		coll:   c.db.Collection(collTasks),
	}
}

// CreateWithEvent inserts the task and its outbox event in one transaction.
func (s *TaskStore) CreateWithEvent(ctx context.Context, task *model.Task, event *model.OutboxEvent) error {
	return s.client.WithTransaction(ctx, func(txCtx context.Context) error {
		if _, err := s.coll.InsertOne(txCtx, task); err != nil {
			return fmt.Errorf("failed to insert task: %w", err)
		}
		if _, err := s.client.db.Collection(collEvents).InsertOne(txCtx, event); err != nil {
			return fmt.Errorf("failed to insert outbox event: %w", err)
		}
		return nil
	})
}

// Claim attempts the atomic PENDING -> IN_PROGRESS transition.
func (s *TaskStore) Claim(ctx context.Context, taskID, workerID string, now time.Time) error {
	now = nowTrunc(now)

	res := s.coll.FindOneAndUpdate(ctx,
		bson.M{"taskId": taskID, "status": model.TaskStatusPending},
		bson.M{"$set": bson.M{
			"status":       model.TaskStatusInProgress,
			"startedAt":    now,
			"workerId":     workerID,
			"processingAt": now,
			"updatedAt":    now,
		}},
	)
	if err := res.Err(); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			// Another worker owns it, or it already reached a terminal state.
			return store.ErrNotClaimed
		}
		return fmt.Errorf("failed to claim task %s: %w", taskID, err)
	}
	return nil
}

// Release undoes a claim: IN_PROGRESS -> PENDING with the lease cleared,
// conditional on workerID still holding it. The processor releases before
// routing a delivery through the delay queue, so the retry can claim the
// task again instead of missing on the PENDING filter.
func (s *TaskStore) Release(ctx context.Context, taskID, workerID string, now time.Time) error {
	now = nowTrunc(now)

	res, err := s.coll.UpdateOne(ctx,
		bson.M{
			"taskId":   taskID,
			"status":   model.TaskStatusInProgress,
			"workerId": workerID,
		},
		bson.M{"$set": bson.M{
			"status":       model.TaskStatusPending,
			"startedAt":    nil,
			"workerId":     nil,
			"processingAt": nil,
			"updatedAt":    now,
		}},
	)
	if err != nil {
		return fmt.Errorf("failed to release task %s: %w", taskID, err)
	}
	if res.ModifiedCount == 0 {
		return store.ErrNotClaimed
	}
	return nil
}

// Finalize records the terminal status, the error list, and clears the lease.
func (s *TaskStore) Finalize(ctx context.Context, taskID string, status model.TaskStatus, errs []model.TaskError, now time.Time) error {
	now = nowTrunc(now)
	if errs == nil {
		errs = []model.TaskError{}
	}

	res, err := s.coll.UpdateOne(ctx,
		bson.M{"taskId": taskID},
		bson.M{"$set": bson.M{
			"status":       status,
			"completedAt":  now,
			"errors":       errs,
			"workerId":     nil,
			"processingAt": nil,
			"updatedAt":    now,
		}},
	)
	if err != nil {
		return fmt.Errorf("failed to finalize task %s: %w", taskID, err)
	}
	if res.MatchedCount == 0 {
		return store.ErrTaskNotFound
	}
	return nil
}

// Get returns the task by its public identifier.
func (s *TaskStore) Get(ctx context.Context, taskID string) (*model.Task, error) {
	var task model.Task
	err := s.coll.FindOne(ctx, bson.M{"taskId": taskID}).Decode(&task)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to get task %s: %w", taskID, err)
	}
	return &task, nil
}
