package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/spamm/internal/fitservice"
	"github.com/starford/spamm/internal/templates"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *fitservice.Service, lib *templates.Library, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)
	th := NewTemplateHandler(lib)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	r.Get("/components", h.ListComponents)

	// Fits.
	r.Get("/fits", h.ListFits)
	r.Post("/fits", h.StartFit)
	r.Get("/fits/{id}", h.GetFit)
	r.Delete("/fits/{id}", h.CancelFit)
	r.Delete("/fits/{id}/record", h.DeleteFit)
	r.Get("/fits/{id}/summary", h.Summary)
	r.Get("/fits/{id}/samples", h.Samples)
	r.Post("/fits/{id}/reconstruct", h.Reconstruct)

	// Template library.
	r.Get("/templates", th.Catalogue)
	r.Post("/templates", th.Upload)
	r.Get("/templates/files", th.Files)
	r.Delete("/templates/files/*", th.Delete)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
