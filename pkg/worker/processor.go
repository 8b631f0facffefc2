// Package worker consumes task.created events and processes the uploaded
// spreadsheets they announce: claim the task, validate rows, upsert
// reservations, and finalize the task and its event together.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/stayware/bookingest/internal/logger"
	"github.com/stayware/bookingest/pkg/config"
	"github.com/stayware/bookingest/pkg/model"
	"github.com/stayware/bookingest/pkg/store"
	"github.com/stayware/bookingest/pkg/store/objectstore"
	"github.com/stayware/bookingest/pkg/xlsx"
)

// Metrics is the processor's metrics sink. A nil Metrics disables
// instrumentation.
type Metrics interface {
	ObserveTask(status string, duration time.Duration)
	RecordRows(upserted, rejected int)
	RecordRequeue()
	RecordPoison()
}

// Processor handles one delivery at a time from the task queue.
//
// The task claim is the idempotency gate: the dispatcher's at-least-once
// contract means the same event can arrive twice, and only the delivery
// that wins the PENDING to IN_PROGRESS transition does any work.
type Processor struct {
	tasks        store.Tasks
	events       store.Events
	reservations store.Reservations
	tx           store.TxRunner
	objects      objectstore.Store
	metrics      Metrics
	workerID     string

	batchedUpserts  bool
	upsertBatchSize int
}

// New creates a Processor configured from cfg. workerID identifies this
// process on task claims.
func New(
	tasks store.Tasks,
	events store.Events,
	reservations store.Reservations,
	tx store.TxRunner,
	objects objectstore.Store,
	cfg config.WorkerConfig,
	workerID string,
	metrics Metrics,
) *Processor {
	return &Processor{
		tasks:           tasks,
		events:          events,
		reservations:    reservations,
		tx:              tx,
		objects:         objects,
		metrics:         metrics,
		workerID:        workerID,
		batchedUpserts:  cfg.BatchedUpserts,
		upsertBatchSize: cfg.UpsertBatchSize,
	}
}

// Handle processes one delivery and settles it. Every path ends in exactly
// one ack or nack:
//
//   - malformed envelope or unknown event name: ack and drop (poison,
//     retrying cannot help)
//   - claim miss: ack (another worker owns or already finished the task)
//   - transient write conflict: release the task claim, then nack without
//     requeue, which routes the message through the delay queue for a
//     later retry
//   - any other failure: best-effort mark the task FAILED, then ack so the
//     message cannot loop forever
func (p *Processor) Handle(ctx context.Context, d amqp.Delivery) {
	start := time.Now()

	var envelope model.EventEnvelope
	if err := json.Unmarshal(d.Body, &envelope); err != nil {
		p.dropPoison(ctx, d, fmt.Errorf("malformed envelope: %w", err))
		return
	}
	if envelope.EventID == "" || len(envelope.Payload) == 0 {
		p.dropPoison(ctx, d, errors.New("envelope missing eventId or payload"))
		return
	}
	if envelope.EventName != model.EventNameTaskCreated {
		// The queue binding is a wildcard; names this worker does not
		// speak are dropped, not retried.
		p.dropPoison(ctx, d, fmt.Errorf("unknown event name %q", envelope.EventName))
		return
	}

	var payload model.TaskCreatedPayload
	if err := envelope.DecodePayload(&payload); err != nil {
		p.dropPoison(ctx, d, fmt.Errorf("malformed payload: %w", err))
		return
	}

	lc := &logger.LogContext{
		TaskID:   payload.TaskID,
		EventID:  envelope.EventID,
		WorkerID: p.workerID,
	}
	ctx = logger.WithContext(ctx, lc)

	status, err := p.process(ctx, envelope.EventID, payload)
	switch {
	case errors.Is(err, store.ErrNotClaimed):
		logger.InfoCtx(ctx, "Task already claimed, acking duplicate delivery")
		p.ack(ctx, d)

	case errors.Is(err, store.ErrWriteConflict):
		if p.metrics != nil {
			p.metrics.RecordRequeue()
		}
		p.releaseClaim(ctx, payload.TaskID)
		logger.WarnCtx(ctx, "Write conflict, routing through delay queue", logger.KeyError, err)
		if nackErr := d.Nack(false, false); nackErr != nil {
			logger.ErrorCtx(ctx, "Failed to nack delivery", logger.KeyError, nackErr)
		}

	case err != nil:
		p.failTask(ctx, envelope.EventID, payload.TaskID, err)
		p.ack(ctx, d)

	default:
		if p.metrics != nil {
			p.metrics.ObserveTask(string(status), time.Since(start))
		}
		logger.InfoCtx(ctx, "Task processed",
			logger.KeyStatus, status,
			logger.KeyDuration, time.Since(start),
		)
		p.ack(ctx, d)
	}
}

// process runs the claim, validate, upsert, finalize sequence and returns
// the terminal task status.
//
// The file is downloaded and validated outside any transaction so a large
// sheet never holds a server-side session open; only the writes are
// transactional. With batched upserts each batch commits separately and the
// finalization transaction seals the task; otherwise all upserts and the
// finalization share one transaction and abort together.
func (p *Processor) process(ctx context.Context, eventID string, payload model.TaskCreatedPayload) (model.TaskStatus, error) {
	now := time.Now().UTC()

	if err := p.tasks.Claim(ctx, payload.TaskID, p.workerID, now); err != nil {
		return "", err
	}

	parsed, err := p.loadAndValidate(ctx, payload.FilePath, now)
	if err != nil {
		return "", err
	}

	finalStatus := model.TaskStatusCompleted
	if len(parsed.RowErrors) > 0 {
		finalStatus = model.TaskStatusFailed
	}

	if p.batchedUpserts {
		err = p.commitBatched(ctx, eventID, payload.TaskID, finalStatus, parsed)
	} else {
		err = p.commitSingle(ctx, eventID, payload.TaskID, finalStatus, parsed)
	}
	if err != nil {
		return "", err
	}

	if p.metrics != nil {
		p.metrics.RecordRows(len(parsed.Reservations), len(parsed.RowErrors))
	}
	return finalStatus, nil
}

// loadAndValidate downloads the artifact, decodes the first sheet, and
// validates every row.
func (p *Processor) loadAndValidate(ctx context.Context, filePath string, now time.Time) (*parsedSheet, error) {
	data, err := p.objects.Download(ctx, filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", filePath, err)
	}

	sheet, err := xlsx.ReadFirstSheet(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode workbook %s: %w", filePath, err)
	}

	parsed, err := parseReservations(sheet, now)
	if err != nil {
		return nil, err
	}

	logger.DebugCtx(ctx, "Sheet validated",
		logger.KeyRowCount, len(sheet.Rows),
		logger.KeyErrors, len(parsed.RowErrors),
	)
	return parsed, nil
}

// commitSingle performs all reservation upserts and the task/event
// finalization in one transaction. On abort nothing is persisted.
func (p *Processor) commitSingle(ctx context.Context, eventID, taskID string, finalStatus model.TaskStatus, parsed *parsedSheet) error {
	return p.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		if len(parsed.Reservations) > 0 {
			if err := p.reservations.UpsertMany(txCtx, parsed.Reservations); err != nil {
				return fmt.Errorf("failed to upsert reservations: %w", err)
			}
		}
		return p.finalize(txCtx, eventID, taskID, finalStatus, parsed.RowErrors)
	})
}

// commitBatched splits the upserts into bounded transactions before sealing
// the task. Upserts are idempotent by reservationId, so a retry after a
// partial commit converges to the same state.
func (p *Processor) commitBatched(ctx context.Context, eventID, taskID string, finalStatus model.TaskStatus, parsed *parsedSheet) error {
	for start := 0; start < len(parsed.Reservations); start += p.upsertBatchSize {
		end := min(start+p.upsertBatchSize, len(parsed.Reservations))
		batch := parsed.Reservations[start:end]

		err := p.tx.WithTransaction(ctx, func(txCtx context.Context) error {
			return p.reservations.UpsertMany(txCtx, batch)
		})
		if err != nil {
			return fmt.Errorf("failed to upsert reservation batch %d-%d: %w", start, end, err)
		}
	}

	return p.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		return p.finalize(txCtx, eventID, taskID, finalStatus, parsed.RowErrors)
	})
}

// finalize moves the task to its terminal status and marks the event
// PROCESSED in the same transaction context.
func (p *Processor) finalize(ctx context.Context, eventID, taskID string, finalStatus model.TaskStatus, rowErrors []model.TaskError) error {
	now := time.Now().UTC()

	if err := p.tasks.Finalize(ctx, taskID, finalStatus, rowErrors, now); err != nil {
		return fmt.Errorf("failed to finalize task: %w", err)
	}

	var procErr *model.EventError
	if len(rowErrors) > 0 {
		procErr = &model.EventError{
			Message: fmt.Sprintf("Processing completed with %d errors", len(rowErrors)),
			Details: rowErrors,
		}
	}
	if err := p.events.MarkProcessed(ctx, eventID, procErr, now); err != nil {
		return fmt.Errorf("failed to mark event processed: %w", err)
	}
	return nil
}

// releaseClaim returns a conflicted task to PENDING so the delayed
// redelivery can claim it again. The claim survives the aborted commit
// transaction; without the release every retry would miss the PENDING
// filter and be acked as a duplicate, stranding the task IN_PROGRESS.
func (p *Processor) releaseClaim(ctx context.Context, taskID string) {
	if err := p.tasks.Release(ctx, taskID, p.workerID, time.Now().UTC()); err != nil {
		logger.ErrorCtx(ctx, "Failed to release task claim", logger.KeyError, err)
	}
}

// failTask is the fallback path for non-retryable failures: best-effort
// mark the task FAILED and the event PROCESSED with the error recorded, so
// the caller can ack without losing the failure.
func (p *Processor) failTask(ctx context.Context, eventID, taskID string, cause error) {
	logger.ErrorCtx(ctx, "Task processing failed", logger.KeyError, cause)
	if p.metrics != nil {
		p.metrics.ObserveTask(string(model.TaskStatusFailed), 0)
	}

	now := time.Now().UTC()
	taskErrs := []model.TaskError{model.FileError(cause.Error())}

	err := p.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := p.tasks.Finalize(txCtx, taskID, model.TaskStatusFailed, taskErrs, now); err != nil {
			return err
		}
		return p.events.MarkProcessed(txCtx, eventID, &model.EventError{
			Message: cause.Error(),
			Details: taskErrs,
		}, now)
	})
	if err != nil {
		// The lease expiry and event terminal states are left to operator
		// inspection; acking still prevents a poison loop.
		logger.ErrorCtx(ctx, "Failed to record task failure", logger.KeyError, err)
	}
}

// dropPoison acks a structurally invalid message. Redelivery cannot fix a
// malformed body, so dropping is the only termination.
func (p *Processor) dropPoison(ctx context.Context, d amqp.Delivery, cause error) {
	if p.metrics != nil {
		p.metrics.RecordPoison()
	}
	logger.WarnCtx(ctx, "Dropping poison message", logger.KeyError, cause)
	p.ack(ctx, d)
}

func (p *Processor) ack(ctx context.Context, d amqp.Delivery) {
	if err := d.Ack(false); err != nil {
		logger.ErrorCtx(ctx, "Failed to ack delivery", logger.KeyError, err)
	}
}
