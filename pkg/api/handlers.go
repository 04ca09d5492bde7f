package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/loadworks/loadoor/pkg/directory"
	"github.com/loadworks/loadoor/pkg/guardrail"
	"github.com/loadworks/loadoor/pkg/loadtest"
	"github.com/loadworks/loadoor/pkg/store"
)

// errorResponse is a standard error payload.
type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON encodes v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
	}
}

// writeError maps known error types to HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	var (
		validationErr *guardrail.ValidationError
		resolutionErr *directory.ResolutionError
	)

	switch {
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{err.Error()})
	case errors.As(err, &validationErr):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{err.Error()})
	case errors.As(err, &resolutionErr):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, errorResponse{err.Error()})
	}
}

// handleHealth returns server health status.
func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSubmit accepts a single load-test submission.
func (s *server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req loadtest.SubmissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid request body: " + err.Error()})

		return
	}

	sub, err := s.svc.Submit(r.Context(), &req)
	if err != nil {
		writeError(w, err)

		return
	}

	writeJSON(w, http.StatusAccepted, sub)
}

// batchRequest wraps a list of submissions with an optional
// concurrency bound; zero falls back to the orchestrator default.
type batchRequest struct {
	Requests    []*loadtest.SubmissionRequest `json:"requests"`
	Concurrency int                           `json:"concurrency,omitempty"`
}

// handleSubmitBatch accepts multiple submissions at once. The response
// preserves request order; individual failures do not fail the batch.
func (s *server) handleSubmitBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid request body: " + err.Error()})

		return
	}

	if len(req.Requests) == 0 {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"batch contains no requests"})

		return
	}

	results := s.svc.SubmitBatch(r.Context(), req.Requests, req.Concurrency)

	writeJSON(w, http.StatusAccepted, map[string]any{"results": results})
}

// handleListExecutions lists executions filtered by status.
func (s *server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	status := loadtest.Status(r.URL.Query().Get("status"))
	if !status.Valid() {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"unknown status filter: " + string(status)})

		return
	}

	recs, err := s.svc.ListByStatus(r.Context(), status)
	if err != nil {
		writeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"executions": recs})
}

// handleGetExecution returns the record plus its endpoint breakdown.
func (s *server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	detail, err := s.svc.GetExecution(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, detail)
}

// handleStatus returns the reconciled status view.
func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	result, err := s.svc.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleMarkBaseline flags an execution as its family's baseline.
func (s *server) handleMarkBaseline(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.svc.MarkBaseline(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, err)

			return
		}

		writeJSON(w, http.StatusConflict, errorResponse{err.Error()})

		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"execution_id": id,
		"baseline":     "marked",
	})
}

// handleComparison grades an execution against its family baseline.
func (s *server) handleComparison(w http.ResponseWriter, r *http.Request) {
	comparison, err := s.svc.CompareToBaseline(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorResponse{err.Error()})

			return
		}

		writeJSON(w, http.StatusConflict, errorResponse{err.Error()})

		return
	}

	writeJSON(w, http.StatusOK, comparison)
}

// handleListEndpoints returns the directory catalogue for a scope.
func (s *server) handleListEndpoints(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	app := q.Get("app")
	env := q.Get("env")

	if app == "" || env == "" {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"app and env query parameters are required"})

		return
	}

	endpoints, err := s.svc.ListEndpoints(r.Context(), app, env, q.Get("country"))
	if err != nil {
		writeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"endpoints": endpoints})
}
