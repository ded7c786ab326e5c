package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/BeeLink-CN/5g-health-platform-dispatch-service/internal/database"
)

const (
	defaultListLimit = 20
	maxListLimit     = 200
)

// ListDispatches handles GET /api/v1/dispatches with optional patient_id,
// status, limit, and offset query parameters. When dispatch_id is supplied it
// returns that single record instead.
func (h *Handlers) ListDispatches(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	if dispatchID := query.Get("dispatch_id"); dispatchID != "" {
		h.getDispatch(w, r, dispatchID)
		return
	}

	limit := parseIntParam(query.Get("limit"), defaultListLimit)
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset := parseIntParam(query.Get("offset"), 0)

	status := query.Get("status")
	if status != "" && !database.DispatchStatus(status).IsValid() {
		http.Error(w, "status must be one of: created, assigned, on_route, on_scene, transporting, completed, cancelled", http.StatusBadRequest)
		return
	}

	dispatches, err := h.db.ListDispatches(r.Context(), query.Get("patient_id"), status, limit, offset)
	if err != nil {
		slog.Error("Failed to list dispatches", "error", err)
		http.Error(w, "Failed to list dispatches", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"data": dispatches})
}

// getDispatch returns a single dispatch by id, 404 when missing.
func (h *Handlers) getDispatch(w http.ResponseWriter, r *http.Request, dispatchID string) {
	d, err := h.db.GetDispatch(r.Context(), dispatchID)
	if err != nil {
		slog.Error("Failed to get dispatch", "dispatch_id", dispatchID, "error", err)
		http.Error(w, "Failed to get dispatch", http.StatusInternalServerError)
		return
	}
	if d == nil {
		http.Error(w, "Dispatch not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// updateStatusRequest is the body of POST /api/v1/dispatches/status.
type updateStatusRequest struct {
	DispatchID string `json:"dispatch_id"`
	Status     string `json:"status"`
}

// UpdateStatus handles POST /api/v1/dispatches/status. The status value is
// validated against the enumerated set; the transition graph itself is not
// enforced here.
func (h *Handlers) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.DispatchID == "" {
		http.Error(w, "dispatch_id is required", http.StatusBadRequest)
		return
	}

	status := database.DispatchStatus(req.Status)
	if !status.IsValid() {
		http.Error(w, "status must be one of: created, assigned, on_route, on_scene, transporting, completed, cancelled", http.StatusBadRequest)
		return
	}

	d, err := h.db.UpdateStatus(r.Context(), req.DispatchID, status)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			http.Error(w, "Dispatch not found", http.StatusNotFound)
			return
		}
		slog.Error("Failed to update dispatch status", "dispatch_id", req.DispatchID, "error", err)
		http.Error(w, "Failed to update dispatch status", http.StatusInternalServerError)
		return
	}

	slog.Info("Dispatch status updated",
		"dispatch_id", req.DispatchID,
		"status", req.Status,
	)
	writeJSON(w, http.StatusOK, d)
}

// parseIntParam parses a non-negative integer query parameter, falling back
// to def on absence or bad input.
func parseIntParam(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}
