package handlers

import (
	"encoding/json"
	"net/http"

	"studycoach-ai/internal/service"
)

// QuizHandler generates and grades adaptive quizzes.
type QuizHandler struct {
	svc *service.QuizService
}

// NewQuizHandler creates a new quiz handler.
func NewQuizHandler(svc *service.QuizService) *QuizHandler {
	return &QuizHandler{svc: svc}
}

// Generate handles POST /api/quiz/generate.
func (h *QuizHandler) Generate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req service.GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(ctx, w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	resp, err := h.svc.Generate(ctx, req)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, resp)
}

// Submit handles POST /api/quiz/submit.
func (h *QuizHandler) Submit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req service.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(ctx, w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	resp, err := h.svc.Submit(ctx, req)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, resp)
}
