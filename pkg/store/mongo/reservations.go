package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/stayware/bookingest/pkg/model"
)

// ReservationStore persists reservations on MongoDB.
type ReservationStore struct {
	coll *mongo.Collection
}

// NewReservationStore creates a ReservationStore.
func NewReservationStore(db *mongo.Database) *ReservationStore {
	return &ReservationStore{coll: db.Collection(collReservations)}
}

// upsertUpdate builds the update document for one reservation. createdAt is
// only set on insert so re-imports keep the original creation time.
func upsertUpdate(r *model.Reservation, now time.Time) bson.M {
	return bson.M{
		"$set": bson.M{
			"guestName":    r.GuestName,
			"status":       r.Status,
			"checkInDate":  r.CheckInDate,
			"checkOutDate": r.CheckOutDate,
			"updatedAt":    now,
		},
		"$setOnInsert": bson.M{
			"reservationId": r.ReservationID,
			"createdAt":     now,
		},
	}
}

// Upsert creates or updates one reservation keyed by reservationId.
func (s *ReservationStore) Upsert(ctx context.Context, r *model.Reservation) error {
	now := nowTrunc(time.Now())

	_, err := s.coll.UpdateOne(ctx,
		bson.M{"reservationId": r.ReservationID},
		upsertUpdate(r, now),
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert reservation %s: %w", r.ReservationID, err)
	}
	return nil
}

// UpsertMany creates or updates a batch of reservations in one bulk write.
// Duplicates within the batch were already filtered by row validation, so
// unordered execution is safe.
func (s *ReservationStore) UpsertMany(ctx context.Context, rs []model.Reservation) error {
	if len(rs) == 0 {
		return nil
	}
	now := nowTrunc(time.Now())

	models := make([]mongo.WriteModel, 0, len(rs))
	for i := range rs {
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"reservationId": rs[i].ReservationID}).
			SetUpdate(upsertUpdate(&rs[i], now)).
			SetUpsert(true))
	}

	_, err := s.coll.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return fmt.Errorf("failed to bulk upsert %d reservations: %w", len(rs), err)
	}
	return nil
}
