// Package handlers provides HTTP handlers for the dispatch-service API.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/BeeLink-CN/5g-health-platform-dispatch-service/internal/database"
)

// Repository defines the database operations the API needs.
// This allows handlers to be tested without a real database.
type Repository interface {
	ListDispatches(ctx context.Context, patientID, status string, limit, offset int) ([]*database.Dispatch, error)
	GetDispatch(ctx context.Context, dispatchID string) (*database.Dispatch, error)
	UpdateStatus(ctx context.Context, dispatchID string, status database.DispatchStatus) (*database.Dispatch, error)

	// Ping verifies store connectivity for the readiness probe.
	Ping(ctx context.Context) error
}

// BusStatus reports event bus connectivity for the readiness probe.
type BusStatus interface {
	Closed() bool
}

// Handlers wraps dependencies for HTTP handlers.
type Handlers struct {
	db  Repository
	bus BusStatus
}

// NewHandlers creates a new handlers instance.
func NewHandlers(db Repository, bus BusStatus) *Handlers {
	return &Handlers{db: db, bus: bus}
}

// Health handles GET /health. Liveness only; it never checks dependencies.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// Ready handles GET /ready. Reports 503 with a descriptive message when the
// store or the bus is unreachable; a closed bus is reported even when the
// store is healthy.
func (h *Handlers) Ready(w http.ResponseWriter, r *http.Request) {
	if err := h.db.Ping(r.Context()); err != nil {
		slog.Warn("Readiness check failed", "component", "database", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"error":  err.Error(),
		})
		return
	}
	if h.bus.Closed() {
		slog.Warn("Readiness check failed", "component", "bus", "error", "NATS connection closed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"error":  "NATS connection closed",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}
