package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/example/learning-platform/internal/platform/auth"
	"github.com/example/learning-platform/services/progress/internal/service"
)

// Routes carries what Mount needs.
type Routes struct {
	Service  *service.Service
	Verifier auth.JWTVerifier
	// Sessions upgrades viewing-session websockets.
	Sessions http.HandlerFunc
	// WriteLimit and SessionLimit are requests per user per minute.
	WriteLimit   int
	SessionLimit int
}

// Mount registers the /v1 API on r. httpserver.SetupRouter must run first.
func Mount(r chi.Router, rt Routes) {
	svc := rt.Service

	r.Group(func(r chi.Router) {
		r.Use(auth.OptionalUser(rt.Verifier))
		r.Get("/v1/aggregates/subjects", SubjectAggregates(svc))
		r.Get("/v1/aggregates/categories", CategoryAggregates(svc))
		r.Get("/v1/episodes/{episode_id}/access", CheckAccess(svc))
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireUser(rt.Verifier))
		r.Get("/v1/progress", ListRecent(svc))
		r.Get("/v1/progress/{episode_id}", GetProgress(svc))
		r.Post("/v1/progress/batch", BatchProgress(svc))
		r.With(perUserLimit(rt.WriteLimit)).Put("/v1/progress/{episode_id}", SaveProgress(svc))

		if rt.Sessions != nil {
			r.With(perUserLimit(rt.SessionLimit)).Get("/v1/sessions/{episode_id}/ws", rt.Sessions)
		}

		r.With(auth.RequireAdmin).Post("/v1/admin/aggregates/flush", FlushAggregates(svc))
	})
}
