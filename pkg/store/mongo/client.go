// Package mongo implements the store interfaces on MongoDB.
//
// All writes issued by the pipeline go through majority read/write concerns:
// the outbox contract depends on a committed NEW event surviving any single
// node failure, and the processor's claim protocol depends on reading its
// own majority-committed writes.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"

	"github.com/stayware/bookingest/internal/logger"
	"github.com/stayware/bookingest/pkg/config"
	"github.com/stayware/bookingest/pkg/store"
)

// Collection names.
const (
	collTasks        = "tasks"
	collEvents       = "events"
	collReservations = "reservations"
)

// Client wraps a MongoDB connection with the database handle and transaction
// support used by the pipeline stores.
type Client struct {
	client *mongo.Client
	db     *mongo.Database
}

// Connect dials MongoDB, verifies the connection, and returns a Client.
//
// The deployment must support multi-document transactions (replica set or
// sharded cluster); standalone servers will fail at the first transaction.
func Connect(ctx context.Context, cfg config.MongoConfig) (*Client, error) {
	opts := options.Client().
		ApplyURI(cfg.URL).
		SetReadConcern(readconcern.Majority()).
		SetWriteConcern(writeconcern.Majority())

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	logger.Info("Connected to MongoDB", "db", cfg.DBName)

	return &Client{
		client: client,
		db:     client.Database(cfg.DBName),
	}, nil
}

// Database exposes the underlying database handle.
func (c *Client) Database() *mongo.Database {
	return c.db
}

// Ping verifies the server is reachable.
func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx, nil)
}

// Close disconnects from MongoDB.
func (c *Client) Close(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}

// WithTransaction runs fn inside a multi-document transaction. The context
// passed to fn carries the session; store methods called with it join the
// transaction automatically.
func (c *Client) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	session, err := c.client.StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		return nil, fn(sc)
	})
	if err != nil && IsWriteConflict(err) {
		return fmt.Errorf("%w: %v", store.ErrWriteConflict, err)
	}
	return err
}

// IsWriteConflict reports whether err is a transient transaction conflict
// that is worth retrying through the delayed-retry queue.
func IsWriteConflict(err error) bool {
	if err == nil {
		return false
	}

	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		// 112 = WriteConflict
		if cmdErr.Code == 112 || cmdErr.HasErrorLabel("TransientTransactionError") {
			return true
		}
	}

	var we mongo.WriteException
	if errors.As(err, &we) {
		if we.HasErrorLabel("TransientTransactionError") {
			return true
		}
		for _, e := range we.WriteErrors {
			if e.Code == 112 {
				return true
			}
		}
	}

	return false
}

// IsDuplicateKey reports whether err is a unique-index violation.
func IsDuplicateKey(err error) bool {
	return mongo.IsDuplicateKeyError(err)
}

// Stores bundles the three pipeline stores built on one client.
type Stores struct {
	Tasks        *TaskStore
	Events       *EventStore
	Reservations *ReservationStore
}

// NewStores builds the store set and ensures all indexes exist.
func NewStores(ctx context.Context, c *Client) (*Stores, error) {
	if err := EnsureIndexes(ctx, c.db); err != nil {
		return nil, err
	}

	return &Stores{
		Tasks:        NewTaskStore(c),
		Events:       NewEventStore(c.db),
		Reservations: NewReservationStore(c.db),
	}, nil
}

// nowTrunc truncates to milliseconds, matching BSON datetime precision so
// round-tripped timestamps compare equal.
func nowTrunc(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}
