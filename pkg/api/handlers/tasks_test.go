package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stayware/bookingest/pkg/model"
	"github.com/stayware/bookingest/pkg/store"
	"github.com/stayware/bookingest/pkg/upload"
	"github.com/stayware/bookingest/pkg/xlsx"
)

type fakeAssembler struct {
	in     upload.ChunkInput
	result upload.ChunkResult
	err    error
}

func (f *fakeAssembler) IngestChunk(_ context.Context, in upload.ChunkInput) (upload.ChunkResult, error) {
	f.in = in
	return f.result, f.err
}

type fakeTaskReader struct {
	task *model.Task
	err  error
}

func (f *fakeTaskReader) Get(context.Context, string) (*model.Task, error) {
	return f.task, f.err
}

func taskRouter(h *TaskHandler) http.Handler {
	r := chi.NewRouter()
	r.Post("/v1/task/upload", h.Upload)
	r.Get("/v1/task/status/{taskID}", h.Status)
	r.Get("/v1/task/report/{taskID}", h.Report)
	return r
}

// chunkRequest builds a multipart upload request with an xlsx-typed file
// part.
func chunkRequest(t *testing.T, fields map[string]string, fileName string, body []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}

	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, fileName))
	hdr.Set("Content-Type", xlsx.MimeType)
	part, err := mw.CreatePart(hdr)
	require.NoError(t, err)
	_, err = part.Write(body)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/task/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

const testUploadID = "5f8b2c1e-9d3a-4b7f-8e2d-1a6c9f0b4e3d"

func defaultFields() map[string]string {
	return map[string]string{
		"uploadId":         testUploadID,
		"originalFileName": "bookings.xlsx",
		"chunkNumber":      "0",
		"totalChunks":      "3",
	}
}

func TestUploadIntermediateChunk(t *testing.T) {
	asm := &fakeAssembler{result: upload.ChunkResult{}}
	router := taskRouter(NewTaskHandler(asm, &fakeTaskReader{}, 1<<20))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, chunkRequest(t, defaultFields(), "bookings.xlsx", []byte("chunk-0")))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "chunk_received", body["status"])

	assert.Equal(t, testUploadID, asm.in.UploadID)
	assert.Equal(t, 0, asm.in.ChunkNumber)
	assert.Equal(t, 3, asm.in.TotalChunks)
	assert.Equal(t, "bookings.xlsx", asm.in.OriginalFileName)
	assert.Equal(t, xlsx.MimeType, asm.in.MimeType)
	assert.Equal(t, []byte("chunk-0"), asm.in.Data)
}

func TestUploadTerminalChunkReturnsTaskID(t *testing.T) {
	asm := &fakeAssembler{result: upload.ChunkResult{Completed: true, TaskID: "task-42"}}
	router := taskRouter(NewTaskHandler(asm, &fakeTaskReader{}, 1<<20))

	fields := defaultFields()
	fields["chunkNumber"] = "2"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, chunkRequest(t, fields, "bookings.xlsx", []byte("chunk-2")))

	require.Equal(t, http.StatusCreated, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "task-42", body["taskId"])
}

func TestUploadValidationErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(map[string]string)
		asmErr error
	}{
		{"missing uploadId", func(f map[string]string) { delete(f, "uploadId") }, nil},
		{"malformed uploadId", func(f map[string]string) { f["uploadId"] = "not-a-uuid" }, nil},
		{"missing chunkNumber", func(f map[string]string) { delete(f, "chunkNumber") }, nil},
		{"non-numeric totalChunks", func(f map[string]string) { f["totalChunks"] = "many" }, nil},
		{"bad file name", nil, upload.ErrInvalidFileName},
		{"bad mime type", nil, upload.ErrInvalidMimeType},
		{"chunk out of range", nil, upload.ErrChunkOutOfRange},
		{"expired session", nil, upload.ErrSessionExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			asm := &fakeAssembler{err: tt.asmErr}
			router := taskRouter(NewTaskHandler(asm, &fakeTaskReader{}, 1<<20))

			fields := defaultFields()
			if tt.mutate != nil {
				tt.mutate(fields)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, chunkRequest(t, fields, "bookings.xlsx", []byte("x")))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestUploadInternalError(t *testing.T) {
	asm := &fakeAssembler{err: errors.New("multipart init failed")}
	router := taskRouter(NewTaskHandler(asm, &fakeTaskReader{}, 1<<20))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, chunkRequest(t, defaultFields(), "bookings.xlsx", []byte("x")))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "multipart init failed")
}

func TestStatusProjection(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Millisecond)
	started := now.Add(time.Second)
	tasks := &fakeTaskReader{task: &model.Task{
		TaskID:           "task-1",
		FilePath:         "uploads/secret/key.xlsx",
		OriginalFileName: "key.xlsx",
		Status:           model.TaskStatusInProgress,
		StartedAt:        &started,
		CreatedAt:        now,
		UpdatedAt:        now,
	}}
	router := taskRouter(NewTaskHandler(&fakeAssembler{}, tasks, 1<<20))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/task/status/task-1", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "task-1", body["taskId"])
	assert.Equal(t, "IN_PROGRESS", body["status"])
	assert.Equal(t, []any{}, body["errors"])
	// The object-store key stays internal.
	assert.NotContains(t, body, "filePath")
	assert.NotContains(t, rec.Body.String(), "uploads/secret")
}

func TestStatusNotFound(t *testing.T) {
	router := taskRouter(NewTaskHandler(&fakeAssembler{}, &fakeTaskReader{err: store.ErrTaskNotFound}, 1<<20))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/task/status/none", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReportCSV(t *testing.T) {
	tasks := &fakeTaskReader{task: &model.Task{
		TaskID:           "task-1",
		OriginalFileName: "q3 bookings.xlsx",
		Status:           model.TaskStatusFailed,
		Errors: []model.TaskError{
			model.RowError(2, `duplicate reservation_id "R-1"`),
			model.FileError("sheet has no data rows"),
		},
	}}
	router := taskRouter(NewTaskHandler(&fakeAssembler{}, tasks, 1<<20))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/task/report/task-1", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Equal(t,
		`attachment; filename="error_report_q3_bookings.xlsx.csv"`,
		rec.Header().Get("Content-Disposition"))

	want := `"Row","Error"` + "\n" +
		`"2","duplicate reservation_id ""R-1"""` + "\n" +
		`"","sheet has no data rows"` + "\n"
	assert.Equal(t, want, rec.Body.String())
}

func TestReportRequiresFailedStatus(t *testing.T) {
	tests := []model.TaskStatus{
		model.TaskStatusPending,
		model.TaskStatusInProgress,
		model.TaskStatusCompleted,
	}

	for _, status := range tests {
		t.Run(string(status), func(t *testing.T) {
			tasks := &fakeTaskReader{task: &model.Task{TaskID: "task-1", Status: status}}
			router := taskRouter(NewTaskHandler(&fakeAssembler{}, tasks, 1<<20))

			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/task/report/task-1", nil))

			assert.Equal(t, http.StatusNotFound, rec.Code)
		})
	}
}
