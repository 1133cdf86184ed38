package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"studycoach-ai/internal/ingest"
)

// IngestRequest uploads one markdown document into a knowledge base.
type IngestRequest struct {
	KB      string `json:"kb"`
	Name    string `json:"name"`
	Content string `json:"content"`
}

// DocumentsHandler handles document upload and removal.
type DocumentsHandler struct {
	pipeline *ingest.Pipeline
}

// NewDocumentsHandler creates a new documents handler.
func NewDocumentsHandler(pipeline *ingest.Pipeline) *DocumentsHandler {
	return &DocumentsHandler{pipeline: pipeline}
}

// Ingest handles POST /api/documents.
func (h *DocumentsHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(ctx, w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.KB == "" || req.Name == "" {
		writeError(ctx, w, http.StatusBadRequest, "kb and name are required")
		return
	}
	if req.Content == "" {
		writeError(ctx, w, http.StatusBadRequest, "content is required")
		return
	}

	result, err := h.pipeline.Ingest(ctx, req.KB, req.Name, []byte(req.Content))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusCreated, result)
}

// Delete handles DELETE /api/documents/{id}.
func (h *DocumentsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(ctx, w, http.StatusBadRequest, "document id is required")
		return
	}

	if err := h.pipeline.Remove(ctx, id); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
