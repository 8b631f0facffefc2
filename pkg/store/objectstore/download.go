package objectstore

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Download reads the whole object into memory.
//
// Artifacts are spreadsheets that must be fully buffered before XLSX
// decoding anyway, and buffering here keeps the store transaction in the
// processor free of unbounded streaming.
func (s *S3Store) Download(ctx context.Context, key string) ([]byte, error) {
	var body []byte

	err := s.retry.withRetry(ctx, "GetObject", func() error {
		start := time.Now()
		result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			s.observe("GetObject", start, err)
			return err
		}
		defer result.Body.Close()

		body, err = io.ReadAll(result.Body)
		s.observe("GetObject", start, err)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", key, err)
	}

	if s.metrics != nil {
		s.metrics.RecordBytes("GetObject", int64(len(body)))
	}
	return body, nil
}
