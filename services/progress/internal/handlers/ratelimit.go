package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	"github.com/example/learning-platform/internal/platform/api"
	"github.com/example/learning-platform/internal/platform/auth"
	"github.com/example/learning-platform/internal/platform/httpserver"
)

// perUserLimit limits authenticated callers by user id and everyone else by IP,
// over a sliding one-minute window. limit <= 0 disables it.
func perUserLimit(limit int) func(http.Handler) http.Handler {
	if limit <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	window := time.Minute
	return httprate.Limit(
		limit,
		window,
		httprate.WithKeyFuncs(keyByUser),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			api.RateLimited(w, "RATE_LIMITED", "Too many requests", httpserver.RequestIDFromContext(r.Context()), window)
		}),
	)
}

func keyByUser(r *http.Request) (string, error) {
	if uid, ok := auth.UserIDFromContext(r.Context()); ok && uid != "" {
		return "user:" + uid, nil
	}
	return httprate.KeyByIP(r)
}
