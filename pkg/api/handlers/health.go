package handlers

import (
	"context"
	"net/http"
	"time"
)

// Pinger checks one backing dependency for reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFunc adapts a function to the Pinger interface.
type PingerFunc func(ctx context.Context) error

func (f PingerFunc) Ping(ctx context.Context) error { return f(ctx) }

// HealthHandler handles the health check endpoints.
//
// Health endpoints are unauthenticated and provide:
//   - Liveness probe: is the server process running?
//   - Readiness probe: are the backing dependencies reachable?
type HealthHandler struct {
	deps map[string]Pinger
}

// NewHealthHandler creates a health handler checking the given named
// dependencies on readiness. deps may be empty, in which case readiness
// degrades to liveness.
func NewHealthHandler(deps map[string]Pinger) *HealthHandler {
	return &HealthHandler{deps: deps}
}

// Liveness handles GET /health - simple liveness probe.
//
// Returns 200 OK as long as the HTTP server is responsive. Designed for
// Kubernetes liveness probes.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, healthyResponse(map[string]string{
		"service": "bookingest",
	}))
}

// Readiness handles GET /health/ready - readiness probe.
//
// Pings every registered dependency with a short deadline and returns 503
// if any of them is unreachable, with per-dependency detail in the body.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	detail := make(map[string]string, len(h.deps))
	healthy := true
	for name, dep := range h.deps {
		if err := dep.Ping(ctx); err != nil {
			detail[name] = err.Error()
			healthy = false
			continue
		}
		detail[name] = "ok"
	}

	if !healthy {
		WriteJSON(w, http.StatusServiceUnavailable, unhealthyResponse("dependency check failed", detail))
		return
	}
	WriteJSON(w, http.StatusOK, healthyResponse(detail))
}
