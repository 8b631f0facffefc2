// Package upload implements chunked-upload assembly: it accepts spreadsheet
// chunks, drives the object-store multipart protocol through a cache-resident
// session, and commits the Task together with its outbox Event when the
// final chunk lands.
package upload

import (
	"context"
	"errors"
	"fmt"
	"path"
	"regexp"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/stayware/bookingest/internal/logger"
	"github.com/stayware/bookingest/pkg/model"
	"github.com/stayware/bookingest/pkg/session"
	"github.com/stayware/bookingest/pkg/store"
	"github.com/stayware/bookingest/pkg/store/objectstore"
	"github.com/stayware/bookingest/pkg/xlsx"
)

// Validation errors surfaced to the HTTP boundary as 400s.
var (
	ErrInvalidFileName = errors.New("invalid file name: must match [\\w,\\s-]+.xlsx")
	ErrInvalidMimeType = errors.New("invalid file type: only xlsx uploads are accepted")
	ErrChunkOutOfRange = errors.New("chunk number out of range")
	ErrSessionExpired  = errors.New("upload session expired or unknown")
)

// fileNameRe accepts word characters, commas, whitespace and hyphens before
// the mandatory .xlsx suffix.
var fileNameRe = regexp.MustCompile(`^[\w,\s-]+\.xlsx$`)

// keyPrefix roots every artifact under one object-store namespace.
const keyPrefix = "uploads"

// ChunkInput is one uploaded chunk with its placement metadata.
type ChunkInput struct {
	UploadID         string
	ChunkNumber      int
	TotalChunks      int
	OriginalFileName string
	MimeType         string
	Data             []byte
}

// ChunkResult reports chunk receipt. TaskID is set only when the terminal
// chunk committed the task; intermediate chunks leave it empty.
type ChunkResult struct {
	Completed bool
	TaskID    string
}

// Assembler reassembles chunked uploads into object-store artifacts.
//
// The session is cache-only because it is cheap to recover: on loss the
// client restarts the upload. The expensive commit, a Task and its outbox
// Event, is durable and atomic, so the dispatcher never observes one
// without the other.
type Assembler struct {
	sessions session.Store
	objects  objectstore.Store
	tasks    store.Tasks
}

// New creates an Assembler.
func New(sessions session.Store, objects objectstore.Store, tasks store.Tasks) *Assembler {
	return &Assembler{
		sessions: sessions,
		objects:  objects,
		tasks:    tasks,
	}
}

// IngestChunk processes one chunk of a multi-part upload.
//
// Chunk zero initiates the multipart upload and creates the session; the
// terminal chunk (ChunkNumber == TotalChunks-1) completes the upload and
// commits the Task. Chunks may arrive out of order; completion sorts parts
// by part number. Concurrent posts for the same chunk are allowed to race,
// last ETag wins.
func (a *Assembler) IngestChunk(ctx context.Context, in ChunkInput) (ChunkResult, error) {
	if err := validate(in); err != nil {
		return ChunkResult{}, err
	}

	var (
		sess *model.UploadSession
		err  error
	)

	if in.ChunkNumber == 0 {
		sess, err = a.openSession(ctx, in)
	} else {
		sess, err = a.sessions.Get(ctx, in.UploadID)
		if errors.Is(err, session.ErrNotFound) {
			err = ErrSessionExpired
		}
	}
	if err != nil {
		return ChunkResult{}, err
	}

	// Part numbers are 1-indexed on the multipart protocol.
	partNumber := int32(in.ChunkNumber + 1)

	etag, err := a.objects.UploadPart(ctx, sess.BucketFilePath, sess.S3UploadID, partNumber, in.Data)
	if err != nil {
		return ChunkResult{}, fmt.Errorf("failed to upload chunk %d: %w", in.ChunkNumber, err)
	}

	sess.UploadedParts = upsertPart(sess.UploadedParts, model.UploadedPart{
		PartNumber: partNumber,
		ETag:       etag,
	})

	if err := a.sessions.Put(ctx, in.UploadID, sess); err != nil {
		return ChunkResult{}, err
	}

	logger.DebugCtx(ctx, "Chunk received",
		logger.KeyUploadID, in.UploadID,
		logger.KeyPart, partNumber,
		"total_chunks", in.TotalChunks,
	)

	if in.ChunkNumber < in.TotalChunks-1 {
		return ChunkResult{}, nil
	}

	taskID, err := a.complete(ctx, in.UploadID, sess)
	if err != nil {
		return ChunkResult{}, err
	}
	return ChunkResult{Completed: true, TaskID: taskID}, nil
}

// validate applies the input contract shared by all chunks.
func validate(in ChunkInput) error {
	if !fileNameRe.MatchString(in.OriginalFileName) {
		return ErrInvalidFileName
	}
	if in.MimeType != xlsx.MimeType {
		return ErrInvalidMimeType
	}
	if in.TotalChunks < 1 || in.ChunkNumber < 0 || in.ChunkNumber >= in.TotalChunks {
		return ErrChunkOutOfRange
	}
	return nil
}

// openSession initiates the multipart upload and persists a fresh session.
func (a *Assembler) openSession(ctx context.Context, in ChunkInput) (*model.UploadSession, error) {
	key := path.Join(keyPrefix, uuid.NewString(), in.OriginalFileName)

	s3UploadID, err := a.objects.InitiateMultipart(ctx, key, in.MimeType)
	if err != nil {
		return nil, fmt.Errorf("failed to initiate multipart upload: %w", err)
	}

	sess := &model.UploadSession{
		S3UploadID:       s3UploadID,
		BucketFilePath:   key,
		TotalChunks:      in.TotalChunks,
		OriginalFileName: in.OriginalFileName,
		MimeType:         in.MimeType,
		UploadedParts:    []model.UploadedPart{},
	}

	if err := a.sessions.Put(ctx, in.UploadID, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// complete finishes the multipart upload and commits the Task + Event pair.
// Any failure past part completion aborts the multipart upload best-effort
// and propagates the error.
func (a *Assembler) complete(ctx context.Context, uploadID string, sess *model.UploadSession) (taskID string, err error) {
	defer func() {
		if err != nil {
			if abortErr := a.objects.AbortMultipart(ctx, sess.BucketFilePath, sess.S3UploadID); abortErr != nil {
				logger.WarnCtx(ctx, "Failed to abort multipart upload",
					logger.KeyUploadID, uploadID, logger.KeyError, abortErr)
			}
		}
	}()

	// Chunks may have arrived out of order; the completion call requires
	// ascending part numbers.
	sort.Slice(sess.UploadedParts, func(i, j int) bool {
		return sess.UploadedParts[i].PartNumber < sess.UploadedParts[j].PartNumber
	})

	if err = a.objects.CompleteMultipart(ctx, sess.BucketFilePath, sess.S3UploadID, sess.UploadedParts); err != nil {
		return "", fmt.Errorf("failed to complete multipart upload: %w", err)
	}

	now := time.Now().UTC()
	taskID = uuid.NewString()

	task := &model.Task{
		TaskID:           taskID,
		FilePath:         sess.BucketFilePath,
		OriginalFileName: sess.OriginalFileName,
		Status:           model.TaskStatusPending,
		Errors:           []model.TaskError{},
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	event, err := model.NewTaskCreatedEvent(model.TaskCreatedPayload{
		TaskID:           taskID,
		FilePath:         sess.BucketFilePath,
		OriginalFileName: sess.OriginalFileName,
	}, now)
	if err != nil {
		return "", err
	}

	if err = a.tasks.CreateWithEvent(ctx, task, event); err != nil {
		return "", fmt.Errorf("failed to commit task: %w", err)
	}

	// Best-effort: the TTL bounds the leak if this fails.
	if delErr := a.sessions.Delete(ctx, uploadID); delErr != nil {
		logger.WarnCtx(ctx, "Failed to delete upload session",
			logger.KeyUploadID, uploadID, logger.KeyError, delErr)
	}

	logger.InfoCtx(ctx, "Upload assembled",
		logger.KeyUploadID, uploadID,
		logger.KeyTaskID, taskID,
		logger.KeyFilePath, sess.BucketFilePath,
	)
	return taskID, nil
}

// upsertPart replaces an existing part record or appends a new one.
// Replacement keeps retried chunks idempotent: the last ETag wins.
func upsertPart(parts []model.UploadedPart, p model.UploadedPart) []model.UploadedPart {
	for i := range parts {
		if parts[i].PartNumber == p.PartNumber {
			parts[i] = p
			return parts
		}
	}
	return append(parts, p)
}
