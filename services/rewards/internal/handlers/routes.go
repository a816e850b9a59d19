package handlers

import (
	"github.com/go-chi/chi/v5"

	"github.com/example/learning-platform/internal/platform/auth"
)

// Mount registers the rewards API. Credits are internal: only service tokens
// may create or look them up.
func Mount(r chi.Router, verifier auth.JWTVerifier, h *RewardsHandler) {
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireUser(verifier))
		r.Get("/v1/rewards/balance", h.Balance)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(auth.RoleService))
			r.Post("/v1/rewards/episode-completions", h.CompleteEpisode)
			r.Get("/v1/rewards/grants", h.GrantExists)
		})
	})
}
