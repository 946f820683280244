package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	mw "github.com/kiranshivaraju/inboxpilot/internal/api/middleware"
	"github.com/kiranshivaraju/inboxpilot/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler       http.HandlerFunc
	MetricsHandler      http.Handler
	CreateJobHandler    http.HandlerFunc
	GetJobHandler       http.HandlerFunc
	DebugStatusHandler  http.HandlerFunc
	SuggestReplyHandler http.HandlerFunc
	TriageHandler       http.HandlerFunc
	ChatHandler         http.HandlerFunc
	ChatResetHandler    http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Route("/api/v1/llm", func(r chi.Router) {
			r.Post("/job", orNotImplemented(deps.CreateJobHandler))
			r.Get("/job/{jobID}", orNotImplemented(deps.GetJobHandler))
			r.Get("/debug/status", orNotImplemented(deps.DebugStatusHandler))

			r.Post("/suggest-reply", orNotImplemented(deps.SuggestReplyHandler))
			r.Post("/triage", orNotImplemented(deps.TriageHandler))
			r.Post("/chat", orNotImplemented(deps.ChatHandler))
			r.Post("/chat/reset", orNotImplemented(deps.ChatResetHandler))
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
