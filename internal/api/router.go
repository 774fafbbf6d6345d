package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/mrtrack/internal/scanservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *scanservice.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	r.Route("/identifiers", func(r chi.Router) {
		r.Post("/parse", h.ParseIdentifier)
		r.Post("/translate", h.TranslateIdentifier)
		r.Post("/match", h.MatchIdentifiers)
	})

	r.Get("/scans", h.ListScans)
	r.Post("/scans/relabel", h.RelabelScan)
	r.Get("/scans/*", h.GetScan)
	r.Get("/subjects/{study}/{subject}/sessions", h.Sessions)
	r.Get("/rejects", h.Rejects)
	r.Get("/search", h.Search)

	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
