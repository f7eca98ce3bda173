// Package httpapi provides the REST HTTP adapter for the server surfaces.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/hylla/riskcast/internal/adapters/server/common"
)

// Handler serves the versioned API subrouter mounted under `/api/v1`.
type Handler struct {
	runs common.RunReader
}

// APIError represents one structured API failure response.
type APIError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Hint    string         `json:"hint,omitempty"`
	Context map[string]any `json:"context,omitempty"`
}

// ErrorEnvelope wraps one structured API error.
type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// NewHandler constructs one HTTP API adapter over the stored-run reader.
func NewHandler(runs common.RunReader) *Handler {
	return &Handler{runs: runs}
}

// ServeHTTP routes one versioned API request to the matching handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, http.MethodGet)
		return
	}
	if h.runs == nil {
		writeJSONError(w, http.StatusServiceUnavailable, APIError{
			Code:    "service_unavailable",
			Message: "run store is not configured",
		})
		return
	}

	path := normalizePath(r.URL.Path)
	if path == "runs" {
		h.handleListRuns(w, r)
		return
	}
	runID, resource, ok := resolveRunPath(path)
	if !ok {
		writeJSONError(w, http.StatusNotFound, APIError{
			Code:    "not_found",
			Message: "endpoint not found",
		})
		return
	}
	switch resource {
	case "":
		h.handleGetRun(w, r, runID)
	case "summary":
		h.handleSummary(w, r, runID)
	case "ranked":
		h.handleRanked(w, r, runID)
	case "allocations":
		h.handleAllocation(w, r, runID)
	case "snapshot":
		h.handleSnapshot(w, r, runID)
	default:
		writeJSONError(w, http.StatusNotFound, APIError{
			Code:    "not_found",
			Message: "endpoint not found",
			Context: map[string]any{"resource": resource},
		})
	}
}

// handleListRuns serves GET `/runs`.
func (h *Handler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	list, err := h.runs.ListRuns(r.Context(), common.ListRunsRequest{Limit: limit})
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// handleGetRun serves GET `/runs/{id}`.
func (h *Handler) handleGetRun(w http.ResponseWriter, r *http.Request, runID string) {
	detail, err := h.runs.GetRun(r.Context(), runID)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// handleSummary serves GET `/runs/{id}/summary`.
func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request, runID string) {
	rows, err := h.runs.SummaryRows(r.Context(), runID)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"run_id": runID,
		"rows":   rows,
	})
}

// handleRanked serves GET `/runs/{id}/ranked`.
func (h *Handler) handleRanked(w http.ResponseWriter, r *http.Request, runID string) {
	limit, err := queryLimit(r)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	points, err := h.runs.RankedImpacts(r.Context(), common.RankedRequest{RunID: runID, Limit: limit})
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"run_id": runID,
		"points": points,
	})
}

// handleAllocation serves GET `/runs/{id}/allocations`.
func (h *Handler) handleAllocation(w http.ResponseWriter, r *http.Request, runID string) {
	allocation, err := h.runs.Allocation(r.Context(), runID)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, allocation)
}

// handleSnapshot serves GET `/runs/{id}/snapshot`.
func (h *Handler) handleSnapshot(w http.ResponseWriter, r *http.Request, runID string) {
	snap, err := h.runs.Snapshot(r.Context(), runID)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// resolveRunPath parses `runs/{id}` and `runs/{id}/{resource}`.
func resolveRunPath(path string) (string, string, bool) {
	const prefix = "runs/"
	if !strings.HasPrefix(path, prefix) {
		return "", "", false
	}
	parts := strings.Split(strings.TrimPrefix(path, prefix), "/")
	if len(parts) > 2 {
		return "", "", false
	}
	runID := strings.TrimSpace(parts[0])
	if runID == "" {
		return "", "", false
	}
	if len(parts) == 1 {
		return runID, "", true
	}
	return runID, parts[1], true
}

// queryLimit parses the optional `limit` query parameter.
func queryLimit(r *http.Request) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("limit %q: %w", raw, errors.Join(common.ErrInvalidRequest, err))
	}
	return limit, nil
}

// normalizePath canonicalizes one request path for route matching.
func normalizePath(path string) string {
	path = strings.TrimSpace(path)
	path = strings.Trim(path, "/")
	return path
}

// writeErrorFrom maps adapter errors into structured HTTP responses.
func writeErrorFrom(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		writeJSONError(w, http.StatusInternalServerError, APIError{
			Code:    "internal_error",
			Message: "unknown error",
		})
	case errors.Is(err, common.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, APIError{
			Code:    "not_found",
			Message: err.Error(),
		})
	case errors.Is(err, common.ErrInvalidRequest):
		writeJSONError(w, http.StatusBadRequest, APIError{
			Code:    "invalid_request",
			Message: err.Error(),
		})
	case errors.Is(err, common.ErrUnavailable):
		writeJSONError(w, http.StatusServiceUnavailable, APIError{
			Code:    "service_unavailable",
			Message: err.Error(),
			Hint:    "Start the server with a database path.",
		})
	default:
		writeJSONError(w, http.StatusInternalServerError, APIError{
			Code:    "internal_error",
			Message: err.Error(),
		})
	}
}

// writeMethodNotAllowed writes a structured 405 response with `Allow` headers.
func writeMethodNotAllowed(w http.ResponseWriter, methods ...string) {
	if len(methods) > 0 {
		w.Header().Set("Allow", strings.Join(methods, ", "))
	}
	writeJSONError(w, http.StatusMethodNotAllowed, APIError{
		Code:    "method_not_allowed",
		Message: "method not allowed",
	})
}

// writeJSONError writes one structured error envelope.
func writeJSONError(w http.ResponseWriter, statusCode int, apiErr APIError) {
	writeJSON(w, statusCode, ErrorEnvelope{Error: apiErr})
}

// writeJSON writes one JSON response envelope.
func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, fmt.Sprintf(`{"error":{"code":"encode_error","message":"%s"}}`, err.Error()), http.StatusInternalServerError)
	}
}
