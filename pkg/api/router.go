// Package api provides the HTTP server for the upload ingress.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/stayware/bookingest/internal/logger"
	"github.com/stayware/bookingest/pkg/api/handlers"
	authmw "github.com/stayware/bookingest/pkg/api/middleware"
)

// RouterDeps carries the handler dependencies the router wires up.
type RouterDeps struct {
	Assembler handlers.Assembler
	Tasks     handlers.TaskReader
	Health    map[string]handlers.Pinger

	// RootAPIKey authenticates the task endpoints.
	RootAPIKey string

	// MaxChunkBytes caps a single uploaded chunk body.
	MaxChunkBytes int64
}

// NewRouter creates and configures the chi router with all middleware and
// routes.
//
// The middleware stack, in order: request ID, real client IP, request
// logging, panic recovery, and a request timeout. Health routes are
// unauthenticated; everything under /v1/task requires the API key.
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	healthHandler := handlers.NewHealthHandler(deps.Health)
	taskHandler := handlers.NewTaskHandler(deps.Assembler, deps.Tasks, deps.MaxChunkBytes)

	// Health routes - unauthenticated
	r.Route("/health", func(r chi.Router) {
		r.Get("/", healthHandler.Liveness)
		r.Get("/ready", healthHandler.Readiness)
	})

	// Task routes - API-key protected
	r.Route("/v1/task", func(r chi.Router) {
		r.Use(authmw.APIKeyAuth(deps.RootAPIKey))
		r.Post("/upload", taskHandler.Upload)
		r.Get("/status/{taskID}", taskHandler.Status)
		r.Get("/report/{taskID}", taskHandler.Report)
	})

	// Root redirect to health for convenience
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/health", http.StatusTemporaryRedirect)
	})

	return r
}

// requestLogger logs requests using the internal logger.
//
// It logs:
//   - Request start (DEBUG level): method, path, remote addr
//   - Request completion (INFO level): method, path, status, duration
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		logger.Debug("API request started",
			logger.KeyRequestID, requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)

		// Wrap response writer to capture status code
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		duration := time.Since(start)

		logger.Info("API request completed",
			logger.KeyRequestID, requestID,
			"method", r.Method,
			"path", r.URL.Path,
			logger.KeyStatus, ww.Status(),
			"bytes", ww.BytesWritten(),
			logger.KeyDuration, duration.String(),
		)
	})
}
