// Package handlers holds the HTTP handlers of the API surface. Handlers
// decode, validate, call a service and map its errors; all behavior lives in
// the services.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"studycoach-ai/internal/contextutil"
	"studycoach-ai/internal/profile"
	"studycoach-ai/internal/retrieval"
	"studycoach-ai/internal/service"
	"studycoach-ai/internal/storage"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		contextutil.LoggerFromContext(ctx).ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, message string) {
	writeJSON(ctx, w, status, ErrorResponse{Error: message})
}

// writeServiceError maps service-layer errors onto HTTP status codes.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	logger := contextutil.LoggerFromContext(ctx)

	switch {
	case errors.Is(err, retrieval.ErrInvalidParameter):
		logger.WarnContext(ctx, "invalid request", "error", err)
		writeError(ctx, w, http.StatusBadRequest, err.Error())
	case errors.Is(err, retrieval.ErrInvalidScope), errors.Is(err, storage.ErrNotFound):
		logger.WarnContext(ctx, "not found", "error", err)
		writeError(ctx, w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrNoEvidence):
		logger.WarnContext(ctx, "no evidence", "error", err)
		writeError(ctx, w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, profile.ErrLockTimeout):
		logger.WarnContext(ctx, "profile busy", "error", err)
		writeError(ctx, w, http.StatusServiceUnavailable, "profile is busy, retry shortly")
	default:
		logger.ErrorContext(ctx, "request failed", "error", err)
		writeError(ctx, w, http.StatusInternalServerError, "internal error")
	}
}
