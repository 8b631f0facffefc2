package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// EnsureIndexes declares all indexes the pipeline queries rely on.
// CreateMany is idempotent; calling this at every startup is safe.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	// tasks: public identifier lookups and the processor claim
	_, err := db.Collection(collTasks).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "taskId", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "status", Value: 1}},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create task indexes: %w", err)
	}

	// events: dispatcher claim (status) and stale recovery (processingAt)
	_, err = db.Collection(collEvents).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "status", Value: 1}, {Key: "createdAt", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "processingAt", Value: 1}},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create event indexes: %w", err)
	}

	// reservations: uniqueness and date-range queries
	_, err = db.Collection(collReservations).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "reservationId", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "checkInDate", Value: 1}, {Key: "checkOutDate", Value: 1}},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create reservation indexes: %w", err)
	}

	return nil
}
