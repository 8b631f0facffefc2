package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/stayware/bookingest/pkg/config"
	"github.com/stayware/bookingest/pkg/model"
	"github.com/stayware/bookingest/pkg/store"
)

// fakeAck records how the delivery was settled.
type fakeAck struct {
	mu      sync.Mutex
	acked   bool
	nacked  bool
	requeue bool
}

func (f *fakeAck) Ack(uint64, bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = true
	return nil
}

func (f *fakeAck) Nack(_ uint64, _ bool, requeue bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nacked = true
	f.requeue = requeue
	return nil
}

func (f *fakeAck) Reject(uint64, bool) error { return errors.New("unexpected reject") }

// fakeTaskStore implements the claim protocol in memory.
type fakeTaskStore struct {
	mu    sync.Mutex
	tasks map[string]*model.Task

	finalizeErrs []error // popped per Finalize call
}

func newFakeTaskStore(tasks ...*model.Task) *fakeTaskStore {
	f := &fakeTaskStore{tasks: map[string]*model.Task{}}
	for _, task := range tasks {
		f.tasks[task.TaskID] = task
	}
	return f
}

func (f *fakeTaskStore) CreateWithEvent(context.Context, *model.Task, *model.OutboxEvent) error {
	panic("unused")
}

func (f *fakeTaskStore) Claim(_ context.Context, taskID, workerID string, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	task, ok := f.tasks[taskID]
	if !ok || task.Status != model.TaskStatusPending {
		return store.ErrNotClaimed
	}
	task.Status = model.TaskStatusInProgress
	w := workerID
	task.WorkerID = &w
	t := now
	task.ProcessingAt = &t
	task.StartedAt = &t
	return nil
}

func (f *fakeTaskStore) Release(_ context.Context, taskID, workerID string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	task, ok := f.tasks[taskID]
	if !ok || task.Status != model.TaskStatusInProgress ||
		task.WorkerID == nil || *task.WorkerID != workerID {
		return store.ErrNotClaimed
	}
	task.Status = model.TaskStatusPending
	task.WorkerID = nil
	task.ProcessingAt = nil
	task.StartedAt = nil
	return nil
}

func (f *fakeTaskStore) Finalize(_ context.Context, taskID string, status model.TaskStatus, errs []model.TaskError, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.finalizeErrs) > 0 {
		err := f.finalizeErrs[0]
		f.finalizeErrs = f.finalizeErrs[1:]
		if err != nil {
			return err
		}
	}
	task, ok := f.tasks[taskID]
	if !ok {
		return store.ErrTaskNotFound
	}
	task.Status = status
	task.Errors = errs
	task.WorkerID = nil
	task.ProcessingAt = nil
	t := now
	task.CompletedAt = &t
	return nil
}

func (f *fakeTaskStore) Get(_ context.Context, taskID string) (*model.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	task, ok := f.tasks[taskID]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	cp := *task
	return &cp, nil
}

// fakeEventStore records MarkProcessed calls.
type fakeEventStore struct {
	mu        sync.Mutex
	processed map[string]*model.EventError
}

func newFakeEventStore() *fakeEventStore {
	return &fakeEventStore{processed: map[string]*model.EventError{}}
}

func (f *fakeEventStore) ClaimNewBatch(context.Context, string, int, time.Time) (int64, error) {
	panic("unused")
}

func (f *fakeEventStore) ListClaimed(context.Context, string, time.Time) ([]model.OutboxEvent, error) {
	panic("unused")
}

func (f *fakeEventStore) MarkPublished(context.Context, string, string, time.Time) error {
	panic("unused")
}

func (f *fakeEventStore) RecoverStale(context.Context, time.Time) (int64, error) {
	panic("unused")
}

func (f *fakeEventStore) MarkProcessed(_ context.Context, id string, procErr *model.EventError, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processed[id] = procErr
	return nil
}

// fakeReservationStore collects upserts keyed by reservationId.
type fakeReservationStore struct {
	mu        sync.Mutex
	upserted  map[string]model.Reservation
	upsertErr error
}

func newFakeReservationStore() *fakeReservationStore {
	return &fakeReservationStore{upserted: map[string]model.Reservation{}}
}

func (f *fakeReservationStore) Upsert(ctx context.Context, r *model.Reservation) error {
	return f.UpsertMany(ctx, []model.Reservation{*r})
}

func (f *fakeReservationStore) UpsertMany(_ context.Context, rs []model.Reservation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return f.upsertErr
	}
	for _, r := range rs {
		f.upserted[r.ReservationID] = r
	}
	return nil
}

// fakeDownloader serves one in-memory object.
type fakeDownloader struct {
	data []byte
	err  error
}

func (f *fakeDownloader) InitiateMultipart(context.Context, string, string) (string, error) {
	panic("unused")
}

func (f *fakeDownloader) UploadPart(context.Context, string, string, int32, []byte) (string, error) {
	panic("unused")
}

func (f *fakeDownloader) CompleteMultipart(context.Context, string, string, []model.UploadedPart) error {
	panic("unused")
}

func (f *fakeDownloader) AbortMultipart(context.Context, string, string) error {
	panic("unused")
}

func (f *fakeDownloader) Download(context.Context, string) ([]byte, error) {
	return f.data, f.err
}

type passthroughTx struct{}

func (passthroughTx) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// workbook builds an in-memory xlsx file with the standard header.
func workbook(t *testing.T, rows ...[]any) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer func() { require.NoError(t, f.Close()) }()

	header := []any{"reservation_id", "guest_name", "check_in_date", "check_out_date", "status"}
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &header))
	for i, r := range rows {
		cellRef, err := excelize.CoordinatesToCellName(1, i+2)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cellRef, &r))
	}

	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	return buf.Bytes()
}

func delivery(t *testing.T, ack *fakeAck, eventID, taskID string) amqp.Delivery {
	t.Helper()
	payload, err := json.Marshal(model.TaskCreatedPayload{
		TaskID:           taskID,
		FilePath:         "uploads/x/bookings.xlsx",
		OriginalFileName: "bookings.xlsx",
	})
	require.NoError(t, err)

	body, err := json.Marshal(model.EventEnvelope{
		EventID:   eventID,
		EventName: model.EventNameTaskCreated,
		Payload:   payload,
	})
	require.NoError(t, err)

	return amqp.Delivery{Acknowledger: ack, Body: body}
}

func pendingTask(taskID string) *model.Task {
	now := time.Now().UTC()
	return &model.Task{
		TaskID:    taskID,
		FilePath:  "uploads/x/bookings.xlsx",
		Status:    model.TaskStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

type fixture struct {
	tasks        *fakeTaskStore
	events       *fakeEventStore
	reservations *fakeReservationStore
	objects      *fakeDownloader
	proc         *Processor
}

func newFixture(t *testing.T, data []byte, cfg config.WorkerConfig, tasks ...*model.Task) *fixture {
	t.Helper()
	f := &fixture{
		tasks:        newFakeTaskStore(tasks...),
		events:       newFakeEventStore(),
		reservations: newFakeReservationStore(),
		objects:      &fakeDownloader{data: data},
	}
	f.proc = New(f.tasks, f.events, f.reservations, passthroughTx{}, f.objects, cfg, "test-host-1", nil)
	return f
}

func defaultWorkerConfig() config.WorkerConfig {
	return config.WorkerConfig{BatchedUpserts: false, UpsertBatchSize: 100}
}

func TestHandleHappyPath(t *testing.T) {
	data := workbook(t,
		[]any{"R-1", "Ada Lovelace", "2026-09-01", "2026-09-05", "PENDING"},
		[]any{"R-2", "Grace Hopper", "2026-09-02", "2026-09-04", "COMPLETED"},
	)
	f := newFixture(t, data, defaultWorkerConfig(), pendingTask("task-1"))
	ack := &fakeAck{}

	f.proc.Handle(context.Background(), delivery(t, ack, "ev-1", "task-1"))

	assert.True(t, ack.acked)
	assert.False(t, ack.nacked)

	task, err := f.tasks.Get(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusCompleted, task.Status)
	assert.Empty(t, task.Errors)
	assert.Nil(t, task.WorkerID)

	assert.Len(t, f.reservations.upserted, 2)
	require.Contains(t, f.events.processed, "ev-1")
	assert.Nil(t, f.events.processed["ev-1"])
}

func TestHandleRowErrorsFailTask(t *testing.T) {
	data := workbook(t,
		[]any{"R-1", "Ada", "2026-09-01", "2026-09-05", "PENDING"},
		[]any{"R-1", "Dup", "2026-09-01", "2026-09-05", "PENDING"},
		[]any{"R-3", "Bad", "not-a-date", "2026-09-05", "PENDING"},
	)
	f := newFixture(t, data, defaultWorkerConfig(), pendingTask("task-1"))
	ack := &fakeAck{}

	f.proc.Handle(context.Background(), delivery(t, ack, "ev-1", "task-1"))

	assert.True(t, ack.acked)

	task, err := f.tasks.Get(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusFailed, task.Status)
	require.Len(t, task.Errors, 2)
	assert.Equal(t, 3, *task.Errors[0].Row)
	assert.Equal(t, 4, *task.Errors[1].Row)

	// First occurrence of the duplicate id is still committed.
	assert.Contains(t, f.reservations.upserted, "R-1")
	assert.Equal(t, "Ada", f.reservations.upserted["R-1"].GuestName)

	require.Contains(t, f.events.processed, "ev-1")
	require.NotNil(t, f.events.processed["ev-1"])
	assert.Equal(t, "Processing completed with 2 errors", f.events.processed["ev-1"].Message)
}

func TestHandleDuplicateDeliveryAcks(t *testing.T) {
	data := workbook(t, []any{"R-1", "Ada", "2026-09-01", "2026-09-05", "PENDING"})
	f := newFixture(t, data, defaultWorkerConfig(), pendingTask("task-1"))

	first := &fakeAck{}
	f.proc.Handle(context.Background(), delivery(t, first, "ev-1", "task-1"))
	require.True(t, first.acked)

	// Second delivery of the same event observes the claim miss and acks
	// without touching anything.
	second := &fakeAck{}
	f.proc.Handle(context.Background(), delivery(t, second, "ev-1", "task-1"))

	assert.True(t, second.acked)
	assert.False(t, second.nacked)
	assert.Len(t, f.reservations.upserted, 1)

	task, err := f.tasks.Get(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusCompleted, task.Status)
}

func TestHandleWriteConflictNacksWithoutRequeue(t *testing.T) {
	data := workbook(t, []any{"R-1", "Ada", "2026-09-01", "2026-09-05", "PENDING"})
	f := newFixture(t, data, defaultWorkerConfig(), pendingTask("task-1"))
	f.tasks.finalizeErrs = []error{fmt.Errorf("%w: write conflict", store.ErrWriteConflict)}
	ack := &fakeAck{}

	f.proc.Handle(context.Background(), delivery(t, ack, "ev-1", "task-1"))

	assert.False(t, ack.acked)
	assert.True(t, ack.nacked)
	assert.False(t, ack.requeue, "must go through the delay queue, not back to the head")

	// The claim is handed back so the delayed retry can win it again.
	task, err := f.tasks.Get(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusPending, task.Status)
	assert.Nil(t, task.WorkerID)
}

func TestHandleWriteConflictRedeliverySucceeds(t *testing.T) {
	data := workbook(t, []any{"R-1", "Ada", "2026-09-01", "2026-09-05", "PENDING"})
	f := newFixture(t, data, defaultWorkerConfig(), pendingTask("task-1"))
	f.tasks.finalizeErrs = []error{fmt.Errorf("%w: write conflict", store.ErrWriteConflict)}

	first := &fakeAck{}
	f.proc.Handle(context.Background(), delivery(t, first, "ev-1", "task-1"))
	require.True(t, first.nacked)

	// The redelivery arrives after the delay queue TTL; the conflict has
	// cleared and the whole sequence runs again from the claim.
	second := &fakeAck{}
	f.proc.Handle(context.Background(), delivery(t, second, "ev-1", "task-1"))

	assert.True(t, second.acked)
	assert.False(t, second.nacked)

	task, err := f.tasks.Get(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusCompleted, task.Status)
	assert.Nil(t, task.WorkerID)
	assert.Contains(t, f.reservations.upserted, "R-1")
	require.Contains(t, f.events.processed, "ev-1")
}

func TestHandleDownloadFailureMarksTaskFailed(t *testing.T) {
	f := newFixture(t, nil, defaultWorkerConfig(), pendingTask("task-1"))
	f.objects.err = errors.New("storage unavailable")
	ack := &fakeAck{}

	f.proc.Handle(context.Background(), delivery(t, ack, "ev-1", "task-1"))

	assert.True(t, ack.acked)

	task, err := f.tasks.Get(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusFailed, task.Status)
	require.Len(t, task.Errors, 1)
	assert.Nil(t, task.Errors[0].Row)
	assert.Contains(t, task.Errors[0].Error, "storage unavailable")

	require.Contains(t, f.events.processed, "ev-1")
	require.NotNil(t, f.events.processed["ev-1"])
}

func TestHandleCorruptWorkbookMarksTaskFailed(t *testing.T) {
	f := newFixture(t, []byte("not a zip archive"), defaultWorkerConfig(), pendingTask("task-1"))
	ack := &fakeAck{}

	f.proc.Handle(context.Background(), delivery(t, ack, "ev-1", "task-1"))

	assert.True(t, ack.acked)
	task, err := f.tasks.Get(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusFailed, task.Status)
}

func TestHandlePoisonMessages(t *testing.T) {
	tests := []struct {
		name string
		body []byte
	}{
		{"not json", []byte("{{{")},
		{"missing event id", mustJSON(t, model.EventEnvelope{EventName: model.EventNameTaskCreated, Payload: []byte(`{"taskId":"t"}`)})},
		{"missing payload", mustJSON(t, model.EventEnvelope{EventID: "ev-1", EventName: model.EventNameTaskCreated})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil, defaultWorkerConfig())
			ack := &fakeAck{}

			f.proc.Handle(context.Background(), amqp.Delivery{Acknowledger: ack, Body: tt.body})

			assert.True(t, ack.acked, "poison must be acked, not requeued")
			assert.False(t, ack.nacked)
		})
	}
}

func TestHandleUnknownEventNameDropped(t *testing.T) {
	// The worker queue binds a wildcard pattern, so event types this
	// worker does not speak can arrive. They must be acked away without
	// touching the task.
	payload := mustJSON(t, model.TaskCreatedPayload{TaskID: "task-1", FilePath: "uploads/x/bookings.xlsx"})
	body := mustJSON(t, model.EventEnvelope{
		EventID:   "ev-1",
		EventName: "task.deleted.event",
		Payload:   payload,
	})

	f := newFixture(t, nil, defaultWorkerConfig(), pendingTask("task-1"))
	ack := &fakeAck{}

	f.proc.Handle(context.Background(), amqp.Delivery{Acknowledger: ack, Body: body})

	assert.True(t, ack.acked)
	assert.False(t, ack.nacked)

	task, err := f.tasks.Get(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusPending, task.Status)
	assert.Empty(t, f.reservations.upserted)
	assert.Empty(t, f.events.processed)
}

func TestHandleBatchedUpserts(t *testing.T) {
	rows := make([][]any, 0, 7)
	for i := 0; i < 7; i++ {
		rows = append(rows, []any{
			fmt.Sprintf("R-%d", i), "Guest", "2026-09-01", "2026-09-05", "PENDING",
		})
	}
	data := workbook(t, rows...)

	cfg := config.WorkerConfig{BatchedUpserts: true, UpsertBatchSize: 3}
	f := newFixture(t, data, cfg, pendingTask("task-1"))
	ack := &fakeAck{}

	f.proc.Handle(context.Background(), delivery(t, ack, "ev-1", "task-1"))

	assert.True(t, ack.acked)
	assert.Len(t, f.reservations.upserted, 7)

	task, err := f.tasks.Get(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusCompleted, task.Status)
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}
