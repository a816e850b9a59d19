package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/example/learning-platform/internal/platform/api"
	"github.com/example/learning-platform/internal/platform/httpserver"
	"github.com/example/learning-platform/services/progress/internal/aggregate"
	"github.com/example/learning-platform/services/progress/internal/service"
)

type aggregatesResponse struct {
	Items []aggregate.Aggregate `json:"items"`
}

type aggregateFunc func(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) ([]aggregate.Aggregate, error)

// SubjectAggregates serves GET /v1/aggregates/subjects?ids=a,b. Anonymous
// callers get zeroed aggregates.
func SubjectAggregates(svc *service.Service) http.HandlerFunc {
	return aggregates(svc.SubjectAggregates)
}

func CategoryAggregates(svc *service.Service) http.HandlerFunc {
	return aggregates(svc.CategoryAggregates)
}

func aggregates(fn aggregateFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rid := httpserver.RequestIDFromContext(r.Context())
		ids, err := parseIDs(r.URL.Query().Get("ids"))
		if err != nil {
			api.BadRequest(w, "INVALID_ARGUMENT", "invalid ids", rid, nil)
			return
		}
		out, err := fn(r.Context(), optionalUser(r), ids)
		if err != nil {
			writeGRPCError(w, rid, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, aggregatesResponse{Items: out})
	}
}

type accessResponse struct {
	EpisodeID  uuid.UUID `json:"episode_id"`
	Accessible bool      `json:"accessible"`
}

// CheckAccess serves GET /v1/episodes/{episode_id}/access.
func CheckAccess(svc *service.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rid := httpserver.RequestIDFromContext(r.Context())
		epID, ok := episodeParam(w, r, rid)
		if !ok {
			return
		}
		accessible, err := svc.CheckAccess(r.Context(), optionalUser(r), epID)
		if err != nil {
			writeGRPCError(w, rid, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, accessResponse{EpisodeID: epID, Accessible: accessible})
	}
}

// FlushAggregates serves POST /v1/admin/aggregates/flush.
func FlushAggregates(svc *service.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rid := httpserver.RequestIDFromContext(r.Context())
		if err := svc.FlushAggregates(r.Context()); err != nil {
			writeGRPCError(w, rid, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
