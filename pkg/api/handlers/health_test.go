package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLiveness(t *testing.T) {
	h := NewHealthHandler(nil)

	rec := httptest.NewRecorder()
	h.Liveness(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var body healthEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body.Status)
}

func TestReadinessAllHealthy(t *testing.T) {
	h := NewHealthHandler(map[string]Pinger{
		"mongodb": PingerFunc(func(context.Context) error { return nil }),
		"redis":   PingerFunc(func(context.Context) error { return nil }),
	})

	rec := httptest.NewRecorder()
	h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var body healthEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, map[string]any{"mongodb": "ok", "redis": "ok"}, body.Data)
}

func TestReadinessDependencyDown(t *testing.T) {
	h := NewHealthHandler(map[string]Pinger{
		"mongodb": PingerFunc(func(context.Context) error { return nil }),
		"redis":   PingerFunc(func(context.Context) error { return errors.New("connection refused") }),
	})

	rec := httptest.NewRecorder()
	h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body healthEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "unhealthy", body.Status)
	detail, ok := body.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "ok", detail["mongodb"])
	assert.Contains(t, detail["redis"], "connection refused")
}
