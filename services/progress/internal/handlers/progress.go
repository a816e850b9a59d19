package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/example/learning-platform/internal/platform/api"
	"github.com/example/learning-platform/internal/platform/httpserver"
	"github.com/example/learning-platform/services/progress/internal/service"
	"github.com/example/learning-platform/services/progress/internal/store"
)

type saveProgressRequest struct {
	WatchedPercent      float64 `json:"watched_percent"`
	LastPositionSeconds float64 `json:"last_position_seconds"`
}

type batchProgressRequest struct {
	EpisodeIDs []string `json:"episode_ids"`
}

type batchProgressResponse struct {
	Items []store.ProgressRecord `json:"items"`
}

func GetProgress(svc *service.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rid := httpserver.RequestIDFromContext(r.Context())
		uid, ok := requireUser(w, r, rid)
		if !ok {
			return
		}
		epID, ok := episodeParam(w, r, rid)
		if !ok {
			return
		}
		rec, err := svc.GetProgress(r.Context(), uid, epID)
		if err != nil {
			writeGRPCError(w, rid, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, rec)
	}
}

func SaveProgress(svc *service.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rid := httpserver.RequestIDFromContext(r.Context())
		uid, ok := requireUser(w, r, rid)
		if !ok {
			return
		}
		epID, ok := episodeParam(w, r, rid)
		if !ok {
			return
		}
		var req saveProgressRequest
		if !decodeJSON(w, r, rid, &req) {
			return
		}
		res, err := svc.SaveProgress(r.Context(), uid, epID, store.Update{
			WatchedPercent:      req.WatchedPercent,
			LastPositionSeconds: req.LastPositionSeconds,
		})
		if err != nil {
			writeGRPCError(w, rid, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, res)
	}
}

func BatchProgress(svc *service.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rid := httpserver.RequestIDFromContext(r.Context())
		uid, ok := requireUser(w, r, rid)
		if !ok {
			return
		}
		var req batchProgressRequest
		if !decodeJSON(w, r, rid, &req) {
			return
		}
		ids := make([]uuid.UUID, 0, len(req.EpisodeIDs))
		for _, raw := range req.EpisodeIDs {
			id, err := uuid.Parse(strings.TrimSpace(raw))
			if err != nil {
				api.BadRequest(w, "INVALID_ARGUMENT", "invalid episode id", rid, map[string]any{"episode_ids": raw})
				return
			}
			ids = append(ids, id)
		}
		recs, err := svc.GetProgressBatch(r.Context(), uid, ids)
		if err != nil {
			writeGRPCError(w, rid, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, batchProgressResponse{Items: recs})
	}
}

// ListRecent serves GET /v1/progress?limit=&cursor= ("continue watching").
func ListRecent(svc *service.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rid := httpserver.RequestIDFromContext(r.Context())
		uid, ok := requireUser(w, r, rid)
		if !ok {
			return
		}
		limit := 0
		if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				api.BadRequest(w, "INVALID_ARGUMENT", "invalid limit", rid, nil)
				return
			}
			limit = n
		}
		page, err := svc.ListRecent(r.Context(), uid, limit, r.URL.Query().Get("cursor"))
		if err != nil {
			writeGRPCError(w, rid, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, page)
	}
}
