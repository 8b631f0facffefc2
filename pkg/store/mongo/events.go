package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/stayware/bookingest/pkg/model"
	"github.com/stayware/bookingest/pkg/store"
)

// EventStore persists outbox events on MongoDB.
type EventStore struct {
	coll *mongo.Collection
}

// NewEventStore creates an EventStore.
func NewEventStore(db *mongo.Database) *EventStore {
	return &EventStore{coll: db.Collection(collEvents)}
}

// ClaimNewBatch claims up to limit NEW events for workerID.
//
// MongoDB's UpdateMany cannot sort or limit, so the claim runs in two steps:
// collect candidate ids oldest-first, then conditionally flip them to
// PROCESSING. The second step re-checks status=NEW per document, so two
// dispatchers sweeping the same candidates partition them instead of
// double-claiming; the returned count reflects only documents actually won.
func (s *EventStore) ClaimNewBatch(ctx context.Context, workerID string, limit int, now time.Time) (int64, error) {
	now = nowTrunc(now)

	findOpts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: 1}}).
		SetLimit(int64(limit)).
		SetProjection(bson.M{"_id": 1})

	cursor, err := s.coll.Find(ctx, bson.M{"status": model.EventStatusNew}, findOpts)
	if err != nil {
		return 0, fmt.Errorf("failed to list new events: %w", err)
	}

	var candidates []struct {
		ID primitive.ObjectID `bson:"_id"`
	}
	if err := cursor.All(ctx, &candidates); err != nil {
		return 0, fmt.Errorf("failed to decode new event ids: %w", err)
	}
	if len(candidates) == 0 {
		return 0, nil
	}

	ids := make([]primitive.ObjectID, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ID
	}

	res, err := s.coll.UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": ids}, "status": model.EventStatusNew},
		bson.M{"$set": bson.M{
			"status":       model.EventStatusProcessing,
			"workerId":     workerID,
			"processingAt": now,
		}},
	)
	if err != nil {
		return 0, fmt.Errorf("failed to claim events: %w", err)
	}
	return res.ModifiedCount, nil
}

// ListClaimed returns the PROCESSING events held by workerID, oldest first.
func (s *EventStore) ListClaimed(ctx context.Context, workerID string, now time.Time) ([]model.OutboxEvent, error) {
	cursor, err := s.coll.Find(ctx,
		bson.M{
			"status":       model.EventStatusProcessing,
			"workerId":     workerID,
			"processingAt": bson.M{"$lte": nowTrunc(now)},
		},
		options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list claimed events: %w", err)
	}

	var events []model.OutboxEvent
	if err := cursor.All(ctx, &events); err != nil {
		return nil, fmt.Errorf("failed to decode claimed events: %w", err)
	}
	return events, nil
}

// MarkPublished conditionally moves one claimed event to PUBLISHED.
func (s *EventStore) MarkPublished(ctx context.Context, id string, workerID string, now time.Time) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return fmt.Errorf("invalid event id %q: %w", id, err)
	}
	now = nowTrunc(now)

	res, err := s.coll.UpdateOne(ctx,
		bson.M{
			"_id":      oid,
			"status":   model.EventStatusProcessing,
			"workerId": workerID,
		},
		bson.M{"$set": bson.M{
			"status":       model.EventStatusPublished,
			"publishedAt":  now,
			"workerId":     nil,
			"processingAt": nil,
		}},
	)
	if err != nil {
		return fmt.Errorf("failed to mark event %s published: %w", id, err)
	}
	if res.ModifiedCount == 0 {
		// Concurrent recovery interleaved; the caller aborts its transaction.
		return store.ErrNotClaimed
	}
	return nil
}

// RecoverStale hands expired PROCESSING claims back to NEW.
func (s *EventStore) RecoverStale(ctx context.Context, threshold time.Time) (int64, error) {
	res, err := s.coll.UpdateMany(ctx,
		bson.M{
			"status":       model.EventStatusProcessing,
			"processingAt": bson.M{"$lt": nowTrunc(threshold)},
		},
		bson.M{"$set": bson.M{
			"status":       model.EventStatusNew,
			"workerId":     nil,
			"processingAt": nil,
		}},
	)
	if err != nil {
		return 0, fmt.Errorf("failed to recover stale events: %w", err)
	}
	return res.ModifiedCount, nil
}

// MarkProcessed records the consumer-terminal state of an event.
func (s *EventStore) MarkProcessed(ctx context.Context, id string, procErr *model.EventError, now time.Time) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return fmt.Errorf("invalid event id %q: %w", id, err)
	}

	_, err = s.coll.UpdateOne(ctx,
		bson.M{"_id": oid},
		bson.M{"$set": bson.M{
			"status":      model.EventStatusProcessed,
			"processedAt": nowTrunc(now),
			"error":       procErr,
		}},
	)
	if err != nil {
		return fmt.Errorf("failed to mark event %s processed: %w", id, err)
	}
	return nil
}
