package handlers

import (
	"encoding/json"
	"net/http"

	"studycoach-ai/internal/service"
)

// AskHandler answers grounded questions against a knowledge base.
type AskHandler struct {
	svc *service.AskService
}

// NewAskHandler creates a new ask handler.
func NewAskHandler(svc *service.AskService) *AskHandler {
	return &AskHandler{svc: svc}
}

// ServeHTTP handles POST /api/ask.
func (h *AskHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req service.AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(ctx, w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	resp, err := h.svc.Ask(ctx, req)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, resp)
}
