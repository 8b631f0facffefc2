// Package session stores in-flight chunked-upload sessions in Redis.
//
// Sessions are cheap to recover (the client retries the upload from the
// first chunk), so they live only in the cache. The TTL bounds the leak when
// a client abandons an upload and the best-effort delete never runs.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stayware/bookingest/pkg/config"
	"github.com/stayware/bookingest/pkg/model"
)

// ErrNotFound is returned when no session exists for an upload identifier:
// the session expired, or the client never sent chunk zero.
var ErrNotFound = errors.New("upload session not found")

// keyPrefix namespaces session keys in the shared Redis database.
const keyPrefix = "upload:"

// Store is the upload-session cache interface. The Redis implementation
// below is the production one; tests use an in-memory fake.
type Store interface {
	Get(ctx context.Context, uploadID string) (*model.UploadSession, error)
	Put(ctx context.Context, uploadID string, s *model.UploadSession) error
	Delete(ctx context.Context, uploadID string) error
}

// RedisStore implements Store on Redis with a per-session TTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisClient dials Redis from configuration and verifies the connection.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

// NewRedisStore creates a session store with the configured TTL.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func sessionKey(uploadID string) string {
	return keyPrefix + uploadID
}

// Get fetches and deserializes a session.
func (s *RedisStore) Get(ctx context.Context, uploadID string) (*model.UploadSession, error) {
	raw, err := s.client.Get(ctx, sessionKey(uploadID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get upload session %s: %w", uploadID, err)
	}

	var session model.UploadSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("failed to decode upload session %s: %w", uploadID, err)
	}
	return &session, nil
}

// Put serializes and stores the session, resetting the TTL. Last write wins;
// the session is single-writer per uploadId by client convention.
func (s *RedisStore) Put(ctx context.Context, uploadID string, session *model.UploadSession) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode upload session %s: %w", uploadID, err)
	}

	if err := s.client.Set(ctx, sessionKey(uploadID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store upload session %s: %w", uploadID, err)
	}
	return nil
}

// Delete removes the session. Missing keys are not an error; deletion on
// success or abort is best-effort.
func (s *RedisStore) Delete(ctx context.Context, uploadID string) error {
	if err := s.client.Del(ctx, sessionKey(uploadID)).Err(); err != nil {
		return fmt.Errorf("failed to delete upload session %s: %w", uploadID, err)
	}
	return nil
}
