package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/example/learning-platform/internal/platform/api"
	"github.com/example/learning-platform/internal/platform/auth"
)

const maxRequestBodyBytes = 1 << 20

// decodeJSON reads up to maxRequestBodyBytes from r.Body and decodes JSON into dst.
// On failure it writes a 400 response and returns false.
func decodeJSON[T any](w http.ResponseWriter, r *http.Request, rid string, dst *T) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)).Decode(dst); err != nil {
		api.BadRequest(w, "INVALID_JSON", "Invalid JSON", rid, nil)
		return false
	}
	return true
}

// requireUser returns the caller's id or writes 401.
func requireUser(w http.ResponseWriter, r *http.Request, rid string) (uuid.UUID, bool) {
	uid, ok := auth.UserIDFromContext(r.Context())
	if !ok || strings.TrimSpace(uid) == "" {
		api.Unauthorized(w, "AUTH_MISSING", "Missing auth", rid)
		return uuid.Nil, false
	}
	id, err := uuid.Parse(uid)
	if err != nil {
		api.Unauthorized(w, "AUTH_INVALID", "Invalid subject", rid)
		return uuid.Nil, false
	}
	return id, true
}

// optionalUser returns uuid.Nil for anonymous callers.
func optionalUser(r *http.Request) uuid.UUID {
	uid, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		return uuid.Nil
	}
	id, err := uuid.Parse(strings.TrimSpace(uid))
	if err != nil {
		return uuid.Nil
	}
	return id
}

func episodeParam(w http.ResponseWriter, r *http.Request, rid string) (uuid.UUID, bool) {
	id, err := uuid.Parse(strings.TrimSpace(chi.URLParam(r, "episode_id")))
	if err != nil {
		api.BadRequest(w, "INVALID_ARGUMENT", "invalid episode_id", rid, nil)
		return uuid.Nil, false
	}
	return id, true
}

// parseIDs parses a comma separated id list. Blank entries are skipped.
func parseIDs(raw string) ([]uuid.UUID, error) {
	var out []uuid.UUID
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := uuid.Parse(part)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}
