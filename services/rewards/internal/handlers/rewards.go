package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/learning-platform/internal/platform/analytics"
	"github.com/example/learning-platform/internal/platform/api"
	"github.com/example/learning-platform/internal/platform/auth"
	"github.com/example/learning-platform/internal/platform/httpserver"
	"github.com/example/learning-platform/services/rewards/internal/idempotency"
	"github.com/example/learning-platform/services/rewards/internal/ledger"
	"github.com/example/learning-platform/services/rewards/internal/publisher"
)

const maxBodyBytes = 65536

var validate = validator.New()

type completionRequest struct {
	UserID        string `json:"user_id" validate:"required,uuid"`
	EpisodeID     string `json:"episode_id" validate:"required,uuid"`
	EpisodePoints *int   `json:"episode_points" validate:"omitempty,min=0"`
}

// grantResponse mirrors the progress service's rewards.Grant. Subject and
// streak bonuses are not awarded yet and stay 0.
type grantResponse struct {
	Granted       bool `json:"granted"`
	EpisodePoints int  `json:"episode_points"`
	SubjectPoints int  `json:"subject_points"`
	StreakPoints  int  `json:"streak_points"`
}

type RewardsHandler struct {
	log           *zap.Logger
	idempotent    idempotency.Store
	ledger        ledger.Ledger
	pub           *publisher.Publisher
	events        *analytics.Publisher
	defaultPoints int
	now           func() time.Time
}

func NewRewardsHandler(
	log *zap.Logger,
	idem idempotency.Store,
	l ledger.Ledger,
	pub *publisher.Publisher,
	events *analytics.Publisher,
	defaultPoints int,
) *RewardsHandler {
	return &RewardsHandler{
		log:           log,
		idempotent:    idem,
		ledger:        l,
		pub:           pub,
		events:        events,
		defaultPoints: defaultPoints,
		now:           time.Now,
	}
}

// CompleteEpisode serves POST /v1/rewards/episode-completions. Repeated calls
// for the same (user, episode) answer granted=false.
func (h *RewardsHandler) CompleteEpisode(w http.ResponseWriter, r *http.Request) {
	rid := httpserver.RequestIDFromContext(r.Context())

	var req completionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		api.BadRequest(w, "INVALID_JSON", "Invalid JSON", rid, nil)
		return
	}
	if err := validate.Struct(req); err != nil {
		api.BadRequest(w, "INVALID_ARGUMENT", "Invalid completion", rid, fieldErrors(err))
		return
	}
	userID := uuid.MustParse(req.UserID)
	episodeID := uuid.MustParse(req.EpisodeID)
	points := h.defaultPoints
	if req.EpisodePoints != nil {
		points = *req.EpisodePoints
	}

	grant, err := h.complete(r.Context(), userID, episodeID, points)
	if err != nil {
		h.log.Error("episode completion failed", zap.String("episode_id", episodeID.String()), zap.Error(err))
		api.Internal(w, rid)
		return
	}
	api.WriteJSON(w, http.StatusOK, grant)
}

func (h *RewardsHandler) complete(ctx context.Context, userID, episodeID uuid.UUID, points int) (grantResponse, error) {
	key := ledger.RuleEpisodeComplete + ":" + userID.String() + ":" + episodeID.String()

	dup, err := h.idempotent.Claim(ctx, key)
	if err != nil {
		return grantResponse{}, err
	}
	if dup {
		// A claim without a ledger row is an attempt that died midway; the
		// ledger's unique key still guards the retry below.
		exists, err := h.ledger.Exists(ctx, userID, ledger.RuleEpisodeComplete, episodeID)
		if err != nil {
			return grantResponse{}, err
		}
		if exists {
			h.log.Debug("duplicate completion, skipping", zap.String("key", key))
			return grantResponse{}, nil
		}
	}

	entry := ledger.Entry{
		ID:          uuid.New(),
		UserID:      userID,
		Rule:        ledger.RuleEpisodeComplete,
		ReferenceID: episodeID,
		Points:      points,
		CreatedAt:   h.now().UTC(),
	}
	created, err := h.ledger.Credit(ctx, entry)
	if err != nil {
		if rerr := h.idempotent.Release(ctx, key); rerr != nil {
			h.log.Warn("idempotency release failed", zap.String("key", key), zap.Error(rerr))
		}
		return grantResponse{}, err
	}
	if !created {
		return grantResponse{}, nil
	}

	evt := publisher.GrantedEvent{
		EventID:     entry.ID.String(),
		UserID:      userID.String(),
		Rule:        entry.Rule,
		ReferenceID: episodeID.String(),
		Points:      points,
		GrantedAt:   entry.CreatedAt,
	}
	if err := h.pub.Publish(ctx, publisher.SubjectRewardGranted, evt); err != nil {
		h.log.Warn("reward event publish failed", zap.String("event_id", evt.EventID), zap.Error(err))
	}
	h.events.Publish(analytics.SubjectRewardGranted, "reward_granted", userID.String(), map[string]any{
		"rule":         entry.Rule,
		"reference_id": evt.ReferenceID,
		"points":       points,
	})
	return grantResponse{Granted: true, EpisodePoints: points}, nil
}

func fieldErrors(err error) map[string]any {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make(map[string]any, len(verrs))
	for _, fe := range verrs {
		out[fe.Field()] = fe.Tag()
	}
	return out
}

// GrantExists serves GET /v1/rewards/grants?user_id=&episode_id=.
func (h *RewardsHandler) GrantExists(w http.ResponseWriter, r *http.Request) {
	rid := httpserver.RequestIDFromContext(r.Context())
	q := r.URL.Query()
	userID, errU := uuid.Parse(strings.TrimSpace(q.Get("user_id")))
	episodeID, errE := uuid.Parse(strings.TrimSpace(q.Get("episode_id")))
	if errU != nil || errE != nil {
		api.BadRequest(w, "INVALID_ARGUMENT", "user_id and episode_id must be uuids", rid, nil)
		return
	}
	exists, err := h.ledger.Exists(r.Context(), userID, ledger.RuleEpisodeComplete, episodeID)
	if err != nil {
		h.log.Error("grant lookup failed", zap.Error(err))
		api.Internal(w, rid)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]bool{"exists": exists})
}

// Balance serves GET /v1/rewards/balance for the calling user.
func (h *RewardsHandler) Balance(w http.ResponseWriter, r *http.Request) {
	rid := httpserver.RequestIDFromContext(r.Context())
	uid, _ := auth.UserIDFromContext(r.Context())
	userID, err := uuid.Parse(strings.TrimSpace(uid))
	if err != nil {
		api.Unauthorized(w, "AUTH_MISSING", "Missing auth", rid)
		return
	}
	total, err := h.ledger.Balance(r.Context(), userID)
	if err != nil {
		h.log.Error("balance lookup failed", zap.Error(err))
		api.Internal(w, rid)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"user_id": userID, "points": total})
}
