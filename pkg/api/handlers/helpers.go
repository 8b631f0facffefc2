package handlers

import (
	"net/http"
	"strconv"
	"time"
)

// healthEnvelope is the response body shared by the health endpoints.
type healthEnvelope struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
	Error     string    `json:"error,omitempty"`
}

func healthyResponse(data any) healthEnvelope {
	return healthEnvelope{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

func unhealthyResponse(errMsg string, data any) healthEnvelope {
	return healthEnvelope{
		Status:    "unhealthy",
		Timestamp: time.Now().UTC(),
		Data:      data,
		Error:     errMsg,
	}
}

// formInt parses a required non-negative integer form field. Returns false
// after writing a 400 response when the field is missing or malformed.
func formInt(w http.ResponseWriter, r *http.Request, field string) (int, bool) {
	raw := r.FormValue(field)
	if raw == "" {
		BadRequest(w, "Missing required field "+field)
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		BadRequest(w, "Field "+field+" must be a non-negative integer")
		return 0, false
	}
	return n, true
}
