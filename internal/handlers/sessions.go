package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"studycoach-ai/internal/session"
)

const defaultTurnLimit = 50

// SessionsHandler replays a session's conversation ledger.
type SessionsHandler struct {
	ledger *session.Ledger
}

// NewSessionsHandler creates a new sessions handler.
func NewSessionsHandler(ledger *session.Ledger) *SessionsHandler {
	return &SessionsHandler{ledger: ledger}
}

// TurnsResponse is a window of a session's ledger.
type TurnsResponse struct {
	SessionID string         `json:"session_id"`
	Turns     []session.Turn `json:"turns"`
}

// Turns handles GET /api/sessions/{id}/turns?limit=...
func (h *SessionsHandler) Turns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(ctx, w, http.StatusBadRequest, "session id is required")
		return
	}

	limit := defaultTurnLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(ctx, w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	turns, err := h.ledger.History(ctx, id, limit)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	if turns == nil {
		turns = []session.Turn{}
	}
	writeJSON(ctx, w, http.StatusOK, TurnsResponse{SessionID: id, Turns: turns})
}
