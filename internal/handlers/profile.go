package handlers

import (
	"encoding/json"
	"net/http"

	"studycoach-ai/internal/profile"
	"studycoach-ai/internal/service"
)

// ProfileHandler exposes learner profiles.
type ProfileHandler struct {
	store *profile.Store
}

// NewProfileHandler creates a new profile handler.
func NewProfileHandler(store *profile.Store) *ProfileHandler {
	return &ProfileHandler{store: store}
}

// Get handles GET /api/profile?user_id=...&scope=...
func (h *ProfileHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := r.URL.Query().Get("user_id")
	scope := r.URL.Query().Get("scope")
	if userID == "" || scope == "" {
		writeError(ctx, w, http.StatusBadRequest, "user_id and scope are required")
		return
	}

	p, err := h.store.GetOrCreate(ctx, userID, scope)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, service.NewProfileView(p))
}

// ResetRequest names the profile to reset.
type ResetRequest struct {
	UserID string `json:"user_id"`
	Scope  string `json:"scope"`
}

// Reset handles POST /api/profile/reset.
func (h *ProfileHandler) Reset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(ctx, w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.UserID == "" || req.Scope == "" {
		writeError(ctx, w, http.StatusBadRequest, "user_id and scope are required")
		return
	}

	p, err := h.store.Reset(ctx, req.UserID, req.Scope)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, service.NewProfileView(p))
}
