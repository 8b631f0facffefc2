package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func protected(key string) http.Handler {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return APIKeyAuth(key)(next)
}

func TestAPIKeyAuth(t *testing.T) {
	tests := []struct {
		name     string
		rootKey  string
		decorate func(*http.Request)
		want     int
	}{
		{
			name:    "valid X-API-Key header",
			rootKey: "s3cret",
			decorate: func(r *http.Request) {
				r.Header.Set("X-API-Key", "s3cret")
			},
			want: http.StatusNoContent,
		},
		{
			name:    "valid bearer token",
			rootKey: "s3cret",
			decorate: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer s3cret")
			},
			want: http.StatusNoContent,
		},
		{
			name:     "missing key",
			rootKey:  "s3cret",
			decorate: func(*http.Request) {},
			want:     http.StatusUnauthorized,
		},
		{
			name:    "wrong key",
			rootKey: "s3cret",
			decorate: func(r *http.Request) {
				r.Header.Set("X-API-Key", "nope")
			},
			want: http.StatusUnauthorized,
		},
		{
			name:    "malformed authorization header",
			rootKey: "s3cret",
			decorate: func(r *http.Request) {
				r.Header.Set("Authorization", "s3cret")
			},
			want: http.StatusUnauthorized,
		},
		{
			name:    "unconfigured key fails closed",
			rootKey: "",
			decorate: func(r *http.Request) {
				r.Header.Set("X-API-Key", "")
			},
			want: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/task/status/t", nil)
			tt.decorate(req)

			rec := httptest.NewRecorder()
			protected(tt.rootKey).ServeHTTP(rec, req)

			assert.Equal(t, tt.want, rec.Code)
		})
	}
}
