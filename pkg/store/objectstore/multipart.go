package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/stayware/bookingest/pkg/model"
)

// InitiateMultipart starts a multipart upload session on S3.
func (s *S3Store) InitiateMultipart(ctx context.Context, key, contentType string) (string, error) {
	var uploadID string

	err := s.retry.withRetry(ctx, "CreateMultipartUpload", func() error {
		start := time.Now()
		result, err := s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
			Bucket:      aws.String(s.bucket),
			Key:         aws.String(key),
			ContentType: aws.String(contentType),
		})
		s.observe("CreateMultipartUpload", start, err)
		if err != nil {
			return err
		}
		uploadID = aws.ToString(result.UploadId)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to create multipart upload for %s: %w", key, err)
	}
	return uploadID, nil
}

// UploadPart uploads one part and returns its ETag. Re-uploading the same
// part number is idempotent on S3; the last write wins.
func (s *S3Store) UploadPart(ctx context.Context, key, uploadID string, partNumber int32, body []byte) (string, error) {
	var etag string

	err := s.retry.withRetry(ctx, "UploadPart", func() error {
		start := time.Now()
		result, err := s.client.UploadPart(ctx, &s3.UploadPartInput{
			Bucket:     aws.String(s.bucket),
			Key:        aws.String(key),
			UploadId:   aws.String(uploadID),
			PartNumber: aws.Int32(partNumber),
			Body:       bytes.NewReader(body),
		})
		s.observe("UploadPart", start, err)
		if err != nil {
			return err
		}
		etag = aws.ToString(result.ETag)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload part %d of %s: %w", partNumber, key, err)
	}

	if s.metrics != nil {
		s.metrics.RecordBytes("UploadPart", int64(len(body)))
	}
	return etag, nil
}

// CompleteMultipart assembles the uploaded parts into the final object.
func (s *S3Store) CompleteMultipart(ctx context.Context, key, uploadID string, parts []model.UploadedPart) error {
	if len(parts) == 0 {
		return fmt.Errorf("cannot complete multipart upload for %s: no parts", key)
	}

	sorted := make([]model.UploadedPart, len(parts))
	copy(sorted, parts)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].PartNumber < sorted[j].PartNumber
	})

	completed := make([]types.CompletedPart, len(sorted))
	for i, p := range sorted {
		completed[i] = types.CompletedPart{
			PartNumber: aws.Int32(p.PartNumber),
			ETag:       aws.String(p.ETag),
		}
	}

	err := s.retry.withRetry(ctx, "CompleteMultipartUpload", func() error {
		start := time.Now()
		_, err := s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
			Bucket:   aws.String(s.bucket),
			Key:      aws.String(key),
			UploadId: aws.String(uploadID),
			MultipartUpload: &types.CompletedMultipartUpload{
				Parts: completed,
			},
		})
		s.observe("CompleteMultipartUpload", start, err)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to complete multipart upload for %s: %w", key, err)
	}
	return nil
}

// AbortMultipart cancels an in-progress multipart upload. A missing upload
// is not an error, so aborting twice is safe.
func (s *S3Store) AbortMultipart(ctx context.Context, key, uploadID string) error {
	start := time.Now()
	_, err := s.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	})
	s.observe("AbortMultipartUpload", start, err)

	if err != nil {
		var noSuchUpload *types.NoSuchUpload
		if !errors.As(err, &noSuchUpload) {
			return fmt.Errorf("failed to abort multipart upload for %s: %w", key, err)
		}
	}
	return nil
}
