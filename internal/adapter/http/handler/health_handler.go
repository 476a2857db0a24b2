package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/iho/transactai/internal/adapter/http/dto"
)

// Checker reports the health of one dependency.
type Checker interface {
	Name() string
	Check(ctx context.Context) error
}

// HealthHandler handles health check requests.
type HealthHandler struct {
	checkers []Checker
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(checkers ...Checker) *HealthHandler {
	return &HealthHandler{checkers: checkers}
}

// Liveness returns 200 if the service is alive.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, dto.HealthResponse{Status: "ok"})
}

// Readiness returns 200 if every configured dependency answers.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := dto.HealthResponse{Status: "ready", Checks: make(map[string]string, len(h.checkers))}
	status := http.StatusOK
	for _, c := range h.checkers {
		if err := c.Check(ctx); err != nil {
			resp.Checks[c.Name()] = err.Error()
			resp.Status = "unavailable"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[c.Name()] = "ok"
	}

	writeJSON(w, status, resp)
}
