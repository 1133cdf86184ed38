// Package http wires the chi router and its middleware around the handlers.
package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"studycoach-ai/internal/handlers"
	"studycoach-ai/internal/ingest"
	"studycoach-ai/internal/profile"
	"studycoach-ai/internal/service"
	"studycoach-ai/internal/session"
)

// Deps holds everything the router needs.
type Deps struct {
	Pipeline *ingest.Pipeline
	Ask      *service.AskService
	Quiz     *service.QuizService
	Profiles *profile.Store
	Ledger   *session.Ledger
}

// NewRouter builds the HTTP router for the API.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)
	r.Use(LoggerMiddleware)
	r.Use(CORS)

	r.Get("/healthz", handlers.Health)

	documents := handlers.NewDocumentsHandler(deps.Pipeline)
	quiz := handlers.NewQuizHandler(deps.Quiz)
	profiles := handlers.NewProfileHandler(deps.Profiles)
	sessions := handlers.NewSessionsHandler(deps.Ledger)

	r.Route("/api", func(r chi.Router) {
		r.Post("/documents", documents.Ingest)
		r.Delete("/documents/{id}", documents.Delete)

		r.Method(http.MethodPost, "/ask", handlers.NewAskHandler(deps.Ask))

		r.Post("/quiz/generate", quiz.Generate)
		r.Post("/quiz/submit", quiz.Submit)

		r.Get("/profile", profiles.Get)
		r.Post("/profile/reset", profiles.Reset)

		r.Get("/sessions/{id}/turns", sessions.Turns)
	})

	return r
}
