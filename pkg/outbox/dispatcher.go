// Package outbox implements the transactional-outbox dispatcher: it claims
// NEW events under a wall-clock lease, publishes them to the event exchange,
// and hands stale claims back when a dispatcher dies mid-batch.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/stayware/bookingest/internal/logger"
	"github.com/stayware/bookingest/pkg/config"
	"github.com/stayware/bookingest/pkg/model"
	"github.com/stayware/bookingest/pkg/store"
)

// EventPublisher publishes one envelope to the event exchange. Satisfied by
// bus.Publisher.
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, body any) error
}

// Metrics is the dispatcher's metrics sink. A nil Metrics disables
// instrumentation.
type Metrics interface {
	RecordPublished(count int)
	RecordPublishFailure()
	RecordRecovered(count int64)
	ObserveCycle(duration time.Duration)
}

// Dispatcher drains the outbox. Multiple dispatcher processes may run
// against the same store: the conditional claim update partitions events
// between them, and the lease plus RecoverStaleEvents handles the one that
// crashes while holding a batch.
//
// Delivery is at least once. A crash between broker publish and the store
// commit re-delivers the event after recovery; consumers must be idempotent.
type Dispatcher struct {
	events   store.Events
	tx       store.TxRunner
	pub      EventPublisher
	metrics  Metrics
	workerID string

	batchSize       int
	publishInterval time.Duration
	recoverInterval time.Duration
	staleAfter      time.Duration
}

// New creates a Dispatcher configured from cfg.
func New(events store.Events, tx store.TxRunner, pub EventPublisher, cfg config.OutboxConfig, metrics Metrics) *Dispatcher {
	return &Dispatcher{
		events:          events,
		tx:              tx,
		pub:             pub,
		metrics:         metrics,
		workerID:        WorkerID(),
		batchSize:       cfg.BatchSize,
		publishInterval: cfg.PublishInterval,
		recoverInterval: cfg.RecoverInterval,
		staleAfter:      cfg.StaleAfter,
	}
}

// WorkerID derives the claim identity for this process. The host and pid
// pair is stable for the process lifetime and unique across a fleet, which
// is all the lease protocol needs.
func WorkerID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

// Run drives the publish and recovery loops until ctx is cancelled. A
// recovery pass runs immediately on start so events orphaned by a previous
// crash of this host do not wait a full interval.
func (d *Dispatcher) Run(ctx context.Context) error {
	logger.InfoCtx(ctx, "Outbox dispatcher started",
		logger.KeyWorkerID, d.workerID,
		"publish_interval", d.publishInterval,
		"recover_interval", d.recoverInterval,
	)

	if err := d.RecoverStaleEvents(ctx); err != nil {
		logger.ErrorCtx(ctx, "Initial stale-claim recovery failed", logger.KeyError, err)
	}

	publishTicker := time.NewTicker(d.publishInterval)
	defer publishTicker.Stop()
	recoverTicker := time.NewTicker(d.recoverInterval)
	defer recoverTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.InfoCtx(ctx, "Outbox dispatcher stopping", logger.KeyWorkerID, d.workerID)
			return ctx.Err()

		case <-publishTicker.C:
			if err := d.PublishNewEvents(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.ErrorCtx(ctx, "Outbox publish cycle failed",
					logger.KeyWorkerID, d.workerID, logger.KeyError, err)
			}

		case <-recoverTicker.C:
			if err := d.RecoverStaleEvents(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.ErrorCtx(ctx, "Stale-claim recovery failed",
					logger.KeyWorkerID, d.workerID, logger.KeyError, err)
			}
		}
	}
}

// PublishNewEvents runs one publish cycle: claim a batch of NEW events,
// then publish and mark each one individually. A failure on one event does
// not abandon the rest of the batch; whatever stays PROCESSING is returned
// to NEW by recovery once the lease expires.
func (d *Dispatcher) PublishNewEvents(ctx context.Context) error {
	start := time.Now()
	now := start.UTC()

	claimed, err := d.events.ClaimNewBatch(ctx, d.workerID, d.batchSize, now)
	if err != nil {
		return fmt.Errorf("failed to claim outbox batch: %w", err)
	}
	if claimed == 0 {
		return nil
	}

	batch, err := d.events.ListClaimed(ctx, d.workerID, now)
	if err != nil {
		return fmt.Errorf("failed to read claimed events: %w", err)
	}

	published := 0
	var firstErr error
	for i := range batch {
		if ctx.Err() != nil {
			break
		}
		if err := d.publishOne(ctx, &batch[i]); err != nil {
			if errors.Is(err, store.ErrNotClaimed) {
				// Recovery or a competing dispatcher took it over.
				logger.DebugCtx(ctx, "Skipping event, claim lost",
					logger.KeyEventID, batch[i].ID.Hex(), logger.KeyWorkerID, d.workerID)
				continue
			}
			if d.metrics != nil {
				d.metrics.RecordPublishFailure()
			}
			logger.ErrorCtx(ctx, "Failed to publish outbox event",
				logger.KeyEventID, batch[i].ID.Hex(),
				logger.KeyEventName, batch[i].EventName,
				logger.KeyError, err,
			)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		published++
	}

	if d.metrics != nil {
		d.metrics.RecordPublished(published)
		d.metrics.ObserveCycle(time.Since(start))
	}

	logger.InfoCtx(ctx, "Outbox batch published",
		logger.KeyWorkerID, d.workerID,
		logger.KeyBatch, claimed,
		"published", published,
		logger.KeyDuration, time.Since(start),
	)
	return firstErr
}

// publishOne marks the event PUBLISHED and sends it to the broker inside a
// single store transaction. The broker send is the last step before commit,
// so a rejected publish aborts the status change and the event is retried
// after its lease expires.
func (d *Dispatcher) publishOne(ctx context.Context, ev *model.OutboxEvent) error {
	return d.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		now := time.Now().UTC()
		if err := d.events.MarkPublished(txCtx, ev.ID.Hex(), d.workerID, now); err != nil {
			return err
		}

		envelope := ev.Event
		envelope.EventID = ev.ID.Hex()
		return d.pub.Publish(txCtx, ev.EventName, envelope)
	})
}

// RecoverStaleEvents returns PROCESSING events with expired leases to NEW
// so any dispatcher can reclaim them.
func (d *Dispatcher) RecoverStaleEvents(ctx context.Context) error {
	threshold := time.Now().UTC().Add(-d.staleAfter)

	recovered, err := d.events.RecoverStale(ctx, threshold)
	if err != nil {
		return fmt.Errorf("failed to recover stale claims: %w", err)
	}
	if recovered > 0 {
		if d.metrics != nil {
			d.metrics.RecordRecovered(recovered)
		}
		logger.WarnCtx(ctx, "Recovered stale outbox claims",
			logger.KeyWorkerID, d.workerID,
			"recovered", recovered,
		)
	}
	return nil
}
