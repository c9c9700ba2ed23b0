package api

import (
	"github.com/go-chi/chi/v5"

	"github.com/starford/raido/internal/index"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
func NewRouter(svc *index.Service, rebuilder *index.Rebuilder, authEnabled bool, token string) chi.Router {
	h := NewHandler(svc, rebuilder)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Index reads.
	r.Get("/collections", h.Collections)
	r.Get("/singletons", h.Singletons)
	r.Get("/media", h.Media)

	// Metadata rebuild.
	r.Post("/rebuild", h.Rebuild)
	r.Get("/rebuild/progress", h.RebuildProgress)

	// Document saves.
	r.Put("/documents/*", h.SaveDocument)

	return r
}
