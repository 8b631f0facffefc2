package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/stayware/bookingest/internal/logger"
	"github.com/stayware/bookingest/pkg/model"
	"github.com/stayware/bookingest/pkg/store"
	"github.com/stayware/bookingest/pkg/upload"
)

// maxFormOverheadBytes covers multipart boundaries and the non-file fields
// on top of the configured chunk cap.
const maxFormOverheadBytes = 64 * 1024

// Assembler is the chunk-ingest dependency of the task handler. Satisfied
// by upload.Assembler.
type Assembler interface {
	IngestChunk(ctx context.Context, in upload.ChunkInput) (upload.ChunkResult, error)
}

// TaskReader is the read-side task dependency. Satisfied by the task store.
type TaskReader interface {
	Get(ctx context.Context, taskID string) (*model.Task, error)
}

// TaskHandler serves the upload, status and report endpoints.
type TaskHandler struct {
	assembler     Assembler
	tasks         TaskReader
	maxChunkBytes int64
}

// NewTaskHandler creates a task handler. maxChunkBytes caps a single
// uploaded chunk body.
func NewTaskHandler(assembler Assembler, tasks TaskReader, maxChunkBytes int64) *TaskHandler {
	return &TaskHandler{
		assembler:     assembler,
		tasks:         tasks,
		maxChunkBytes: maxChunkBytes,
	}
}

// Upload handles POST /v1/task/upload.
//
// Expects multipart/form-data with fields file, uploadId, originalFileName,
// chunkNumber and totalChunks. Intermediate chunks respond 200 with a
// receipt marker; the terminal chunk responds 201 with the new taskId.
func (h *TaskHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxChunkBytes+maxFormOverheadBytes)

	if err := r.ParseMultipartForm(h.maxChunkBytes); err != nil {
		BadRequest(w, "Invalid multipart form: "+err.Error())
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	uploadID := r.FormValue("uploadId")
	if uploadID == "" {
		BadRequest(w, "Missing required field uploadId")
		return
	}
	if _, err := uuid.Parse(uploadID); err != nil {
		BadRequest(w, "Field uploadId must be a valid UUID")
		return
	}

	chunkNumber, ok := formInt(w, r, "chunkNumber")
	if !ok {
		return
	}
	totalChunks, ok := formInt(w, r, "totalChunks")
	if !ok {
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		BadRequest(w, "Missing required field file")
		return
	}
	defer func() {
		_ = file.Close()
	}()

	data, err := io.ReadAll(file)
	if err != nil {
		BadRequest(w, "Failed to read chunk body")
		return
	}

	originalName := r.FormValue("originalFileName")
	if originalName == "" {
		originalName = header.Filename
	}

	result, err := h.assembler.IngestChunk(r.Context(), upload.ChunkInput{
		UploadID:         uploadID,
		ChunkNumber:      chunkNumber,
		TotalChunks:      totalChunks,
		OriginalFileName: originalName,
		MimeType:         header.Header.Get("Content-Type"),
		Data:             data,
	})
	if err != nil {
		h.writeUploadError(w, r, err)
		return
	}

	if result.Completed {
		WriteJSON(w, http.StatusCreated, map[string]string{"taskId": result.TaskID})
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "chunk_received"})
}

// writeUploadError translates assembler errors into HTTP responses:
// validation failures are the client's fault, everything else is 500.
func (h *TaskHandler) writeUploadError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, upload.ErrInvalidFileName),
		errors.Is(err, upload.ErrInvalidMimeType),
		errors.Is(err, upload.ErrChunkOutOfRange),
		errors.Is(err, upload.ErrSessionExpired):
		BadRequest(w, err.Error())
	default:
		logger.ErrorCtx(r.Context(), "Chunk ingest failed", logger.KeyError, err)
		InternalServerError(w, "Failed to process chunk")
	}
}

// taskStatusResponse is the public Task projection. Lease fields and the
// raw object-store key stay internal.
type taskStatusResponse struct {
	TaskID           string            `json:"taskId"`
	Status           model.TaskStatus  `json:"status"`
	Errors           []model.TaskError `json:"errors"`
	OriginalFileName string            `json:"originalFileName"`
	StartedAt        *time.Time        `json:"startedAt,omitempty"`
	CompletedAt      *time.Time        `json:"completedAt,omitempty"`
	CreatedAt        time.Time         `json:"createdAt"`
	UpdatedAt        time.Time         `json:"updatedAt"`
}

// Status handles GET /v1/task/status/{taskID}.
func (h *TaskHandler) Status(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")

	task, err := h.tasks.Get(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, store.ErrTaskNotFound) {
			NotFound(w, "Task not found")
			return
		}
		logger.ErrorCtx(r.Context(), "Failed to load task", logger.KeyTaskID, taskID, logger.KeyError, err)
		InternalServerError(w, "Failed to load task")
		return
	}

	errs := task.Errors
	if errs == nil {
		errs = []model.TaskError{}
	}

	WriteJSON(w, http.StatusOK, taskStatusResponse{
		TaskID:           task.TaskID,
		Status:           task.Status,
		Errors:           errs,
		OriginalFileName: task.OriginalFileName,
		StartedAt:        task.StartedAt,
		CompletedAt:      task.CompletedAt,
		CreatedAt:        task.CreatedAt,
		UpdatedAt:        task.UpdatedAt,
	})
}

// Report handles GET /v1/task/report/{taskID}.
//
// Serves the row errors of a FAILED task as a CSV attachment. Tasks in any
// other state respond 404: there is no report to download.
func (h *TaskHandler) Report(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")

	task, err := h.tasks.Get(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, store.ErrTaskNotFound) {
			NotFound(w, "Task not found")
			return
		}
		logger.ErrorCtx(r.Context(), "Failed to load task", logger.KeyTaskID, taskID, logger.KeyError, err)
		InternalServerError(w, "Failed to load task")
		return
	}

	if task.Status != model.TaskStatusFailed {
		NotFound(w, "No error report available for this task")
		return
	}

	filename := fmt.Sprintf("error_report_%s.csv", sanitizeFilename(task.OriginalFileName))
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)

	var b strings.Builder
	b.WriteString(`"Row","Error"` + "\n")
	for _, e := range task.Errors {
		row := ""
		if e.Row != nil {
			row = fmt.Sprintf("%d", *e.Row)
		}
		b.WriteString(csvField(row) + "," + csvField(e.Error) + "\n")
	}
	_, _ = io.WriteString(w, b.String())
}

// csvField wraps a value in double quotes, doubling any embedded quote.
// Every field is quoted unconditionally; consumers depend on the shape.
func csvField(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// sanitizeFilename strips everything that could escape a Content-Disposition
// filename, keeping letters, digits, dots, underscores and hyphens.
func sanitizeFilename(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.' || r == '_' || r == '-':
			return r
		default:
			return '_'
		}
	}, name)
}
