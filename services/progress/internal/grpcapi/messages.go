package grpcapi

import (
	"github.com/example/learning-platform/services/progress/internal/aggregate"
	"github.com/example/learning-platform/services/progress/internal/store"
)

type GetProgressRequest struct {
	UserID    string `json:"user_id"`
	EpisodeID string `json:"episode_id"`
}

type GetProgressResponse struct {
	Progress store.ProgressRecord `json:"progress"`
}

type UpsertProgressRequest struct {
	UserID              string  `json:"user_id"`
	EpisodeID           string  `json:"episode_id"`
	WatchedPercent      float64 `json:"watched_percent"`
	LastPositionSeconds float64 `json:"last_position_seconds"`
}

type UpsertProgressResponse struct {
	Progress store.ProgressRecord `json:"progress"`
}

type AggregatesRequest struct {
	// UserID may be empty for anonymous callers.
	UserID string   `json:"user_id"`
	IDs    []string `json:"ids"`
}

type AggregatesResponse struct {
	Items []aggregate.Aggregate `json:"items"`
}

type CheckEpisodeAccessRequest struct {
	UserID    string `json:"user_id"`
	EpisodeID string `json:"episode_id"`
}

type CheckEpisodeAccessResponse struct {
	Accessible bool `json:"accessible"`
}
