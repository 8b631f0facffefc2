// Package objectstore implements S3-backed storage for uploaded spreadsheet
// artifacts.
//
// The assembler drives the multipart protocol (initiate, upload part,
// complete, abort); the task processor streams assembled artifacts back out.
// Transient S3 failures are retried in-process with exponential backoff and
// jitter before they surface to callers.
package objectstore

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/stayware/bookingest/pkg/config"
	"github.com/stayware/bookingest/pkg/model"
)

// Store is the object-store surface the pipeline depends on. The S3
// implementation below is the production one; tests use in-memory fakes.
type Store interface {
	// InitiateMultipart starts a multipart upload for key and returns the
	// store-assigned upload identifier.
	InitiateMultipart(ctx context.Context, key, contentType string) (string, error)

	// UploadPart uploads one part (1-indexed) and returns its ETag.
	UploadPart(ctx context.Context, key, uploadID string, partNumber int32, body []byte) (string, error)

	// CompleteMultipart assembles the uploaded parts into the final object.
	// Parts may be passed in any order; they are sorted by part number.
	CompleteMultipart(ctx context.Context, key, uploadID string, parts []model.UploadedPart) error

	// AbortMultipart cancels an in-progress multipart upload. Idempotent.
	AbortMultipart(ctx context.Context, key, uploadID string) error

	// Download reads the whole object into memory.
	Download(ctx context.Context, key string) ([]byte, error)
}

// Metrics is the optional observability hook; a nil Metrics disables
// collection.
type Metrics interface {
	ObserveOperation(op string, d time.Duration, err error)
	RecordBytes(op string, n int64)
}

// S3Store implements Store on Amazon S3 or an S3-compatible endpoint.
//
// Safe for concurrent use: all multipart state lives in the cache-resident
// upload session, not in this struct, so any replica can serve any chunk.
type S3Store struct {
	client  *s3.Client
	bucket  string
	retry   retryConfig
	metrics Metrics
}

// NewS3Client builds an S3 client from configuration. Endpoint and
// path-style addressing are overridable for MinIO and similar stores.
func NewS3Client(ctx context.Context, cfg config.S3Config) (*s3.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})
	return client, nil
}

// New creates an S3Store.
func New(client *s3.Client, cfg config.S3Config, metrics Metrics) *S3Store {
	return &S3Store{
		client: client,
		bucket: cfg.BucketName,
		retry: retryConfig{
			maxAttempts: cfg.MaxRetries,
			baseDelay:   cfg.RetryBaseDelay,
			maxDelay:    cfg.RetryMaxDelay,
		},
		metrics: metrics,
	}
}

// observe records one operation attempt when metrics are enabled.
func (s *S3Store) observe(op string, start time.Time, err error) {
	if s.metrics != nil {
		s.metrics.ObserveOperation(op, time.Since(start), err)
	}
}
