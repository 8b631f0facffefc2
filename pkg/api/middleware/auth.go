// Package middleware provides HTTP middleware for the ingest API.
package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// extractAPIKey pulls the client key from the X-API-Key header or, failing
// that, from a Bearer Authorization header.
func extractAPIKey(r *http.Request) (string, bool) {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key, true
	}

	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", false
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return parts[1], true
}

// APIKeyAuth validates the client API key on every request.
//
// The comparison is constant-time so response latency does not leak key
// prefixes. An empty configured key fails closed: config validation should
// have rejected it, but a misconfigured server must not become an open one.
func APIKeyAuth(rootKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if rootKey == "" {
				http.Error(w, "API key authentication is not configured", http.StatusUnauthorized)
				return
			}

			key, ok := extractAPIKey(r)
			if !ok {
				http.Error(w, "API key required", http.StatusUnauthorized)
				return
			}

			if subtle.ConstantTimeCompare([]byte(key), []byte(rootKey)) != 1 {
				http.Error(w, "Invalid API key", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
