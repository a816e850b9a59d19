// Package service is the request-facing core of the progress service, shared by
// the HTTP handlers and the gRPC API. Errors are gRPC statuses carrying
// errdetails.ErrorInfo reasons.
package service

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc/status"

	"github.com/example/learning-platform/services/progress/internal/aggregate"
	"github.com/example/learning-platform/services/progress/internal/catalog"
	"github.com/example/learning-platform/services/progress/internal/metrics"
	"github.com/example/learning-platform/services/progress/internal/store"
	"github.com/example/learning-platform/services/progress/internal/unlock"
)

const (
	defaultListLimit = 25
	maxListLimit     = 100
	// maxBatchIDs bounds one batch lookup; the store chunks anything below it.
	maxBatchIDs = 5000

	catalogRetryAfter = 2 * time.Second
)

type Service struct {
	Progress   store.ProgressStore
	Lister     store.Lister
	Catalog    catalog.Reader
	Aggregates *aggregate.Engine
	Log        *zap.Logger
}

// SaveResult is the merged record of a manual save.
type SaveResult struct {
	Record store.ProgressRecord `json:"progress"`
}

// Page is one page of the "continue watching" listing.
type Page struct {
	Items      []store.ProgressRecord `json:"items"`
	Limit      int                    `json:"limit"`
	NextCursor string                 `json:"next_cursor,omitempty"`
}

func (s *Service) log() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}

func (s *Service) GetProgress(ctx context.Context, userID, episodeID uuid.UUID) (store.ProgressRecord, error) {
	if userID == uuid.Nil {
		return store.ProgressRecord{}, errUnauthenticated("AUTH_MISSING", "missing auth")
	}
	rec, err := s.Progress.Get(ctx, userID, episodeID)
	if err != nil {
		return store.ProgressRecord{}, err
	}
	if rec == nil {
		return store.ProgressRecord{}, errNotFound("PROGRESS_NOT_FOUND", "no progress for episode")
	}
	return *rec, nil
}

func (s *Service) GetProgressBatch(ctx context.Context, userID uuid.UUID, episodeIDs []uuid.UUID) ([]store.ProgressRecord, error) {
	if userID == uuid.Nil {
		return nil, errUnauthenticated("AUTH_MISSING", "missing auth")
	}
	if len(episodeIDs) > maxBatchIDs {
		return nil, errInvalidArgument("TOO_MANY_IDS", "too many episode ids", map[string]string{
			"episode_ids": "at most 5000 ids per request",
		})
	}
	recs, err := s.Progress.GetBatch(ctx, userID, episodeIDs)
	if err != nil {
		return nil, err
	}
	if recs == nil {
		recs = []store.ProgressRecord{}
	}
	return recs, nil
}

// SaveProgress is the manual save path (offline resume points, clients without
// a live session). Only guarded viewing sessions advance progress: a manual save
// is capped at the stored percent and position, ignores client clocks, and never
// completes or credits an episode. Without a stored row there is nothing to
// adjust and PROGRESS_NOT_FOUND is returned.
func (s *Service) SaveProgress(ctx context.Context, userID, episodeID uuid.UUID, u store.Update) (SaveResult, error) {
	if userID == uuid.Nil {
		return SaveResult{}, errUnauthenticated("AUTH_MISSING", "missing auth")
	}
	if violations := validateUpdate(u); len(violations) > 0 {
		return SaveResult{}, errInvalidArgument("INVALID_PROGRESS", "invalid progress", violations)
	}

	ep, err := s.episode(ctx, episodeID)
	if err != nil {
		return SaveResult{}, err
	}
	subject, err := s.Catalog.GetSubject(ctx, ep.SubjectID)
	if err != nil {
		return SaveResult{}, s.catalogErr(err)
	}
	ok, err := unlock.Checker{Catalog: s.Catalog, Progress: s.Progress}.Check(ctx, userID, episodeID)
	if err != nil {
		return SaveResult{}, s.catalogErr(err)
	}
	if !ok {
		return SaveResult{}, errPermissionDenied("EPISODE_LOCKED", "complete the previous episode first")
	}

	cur, err := s.Progress.Get(ctx, userID, episodeID)
	if err != nil {
		return SaveResult{}, err
	}
	if cur == nil {
		return SaveResult{}, errNotFound("PROGRESS_NOT_FOUND", "start a viewing session first")
	}

	rec, err := s.Progress.Upsert(ctx, userID, episodeID, capManual(*cur, u))
	metrics.ObserveSave(false, err)
	if err != nil {
		return SaveResult{}, err
	}
	s.invalidate(ctx, userID, subject)
	return SaveResult{Record: rec}, nil
}

// capManual keeps a manual save within what the stored row already proves was
// watched. The client timestamp is dropped so the store orders it by server time.
func capManual(cur store.ProgressRecord, u store.Update) store.Update {
	return store.Update{
		WatchedPercent:      math.Min(u.WatchedPercent, cur.WatchedPercent),
		LastPositionSeconds: math.Min(u.LastPositionSeconds, cur.LastPositionSeconds),
	}
}

func (s *Service) invalidate(ctx context.Context, userID uuid.UUID, subject catalog.Subject) {
	if s.Aggregates == nil {
		return
	}
	if err := s.Aggregates.Invalidate(ctx, userID, subject.ID, subject.CategoryID); err != nil {
		s.log().Warn("aggregate invalidation failed", zap.Error(err))
	}
}

// ListRecent pages the user's progress, most recently touched first.
func (s *Service) ListRecent(ctx context.Context, userID uuid.UUID, limit int, cursor string) (Page, error) {
	if userID == uuid.Nil {
		return Page{}, errUnauthenticated("AUTH_MISSING", "missing auth")
	}
	limit = clampLimit(limit, defaultListLimit, maxListLimit)
	recs, err := s.Lister.ListRecent(ctx, userID, limit, decodeCursor(cursor))
	if err != nil {
		return Page{}, err
	}
	page := Page{Items: recs, Limit: limit}
	if page.Items == nil {
		page.Items = []store.ProgressRecord{}
	}
	if len(recs) == limit {
		last := recs[len(recs)-1]
		page.NextCursor = encodeCursor(last.UpdatedAt, last.EpisodeID)
	}
	return page, nil
}

// SubjectAggregates never fails: anonymous callers and read failures get zeroed rows.
func (s *Service) SubjectAggregates(ctx context.Context, userID uuid.UUID, subjectIDs []uuid.UUID) ([]aggregate.Aggregate, error) {
	if len(subjectIDs) > maxBatchIDs {
		return nil, errInvalidArgument("TOO_MANY_IDS", "too many subject ids", map[string]string{"ids": "at most 5000 ids per request"})
	}
	return s.Aggregates.SubjectAggregates(ctx, userID, subjectIDs), nil
}

func (s *Service) CategoryAggregates(ctx context.Context, userID uuid.UUID, categoryIDs []uuid.UUID) ([]aggregate.Aggregate, error) {
	if len(categoryIDs) > maxBatchIDs {
		return nil, errInvalidArgument("TOO_MANY_IDS", "too many category ids", map[string]string{"ids": "at most 5000 ids per request"})
	}
	return s.Aggregates.CategoryAggregates(ctx, userID, categoryIDs), nil
}

// CheckAccess answers for anonymous callers too: only open subjects and first
// episodes are accessible to them.
func (s *Service) CheckAccess(ctx context.Context, userID, episodeID uuid.UUID) (bool, error) {
	ok, err := unlock.Checker{Catalog: s.Catalog, Progress: s.Progress}.Check(ctx, userID, episodeID)
	if err != nil {
		return false, s.catalogErr(err)
	}
	return ok, nil
}

// FlushAggregates drops every cached aggregate on every instance.
func (s *Service) FlushAggregates(ctx context.Context) error {
	if s.Aggregates == nil {
		return nil
	}
	if err := s.Aggregates.Flush(ctx); err != nil {
		s.log().Warn("aggregate flush failed", zap.Error(err))
		return errUnavailable("FLUSH_FAILED", "aggregate flush failed", catalogRetryAfter)
	}
	return nil
}

func (s *Service) episode(ctx context.Context, episodeID uuid.UUID) (catalog.Episode, error) {
	ep, err := s.Catalog.GetEpisode(ctx, episodeID)
	if err != nil {
		return catalog.Episode{}, s.catalogErr(err)
	}
	if !ep.Published {
		return catalog.Episode{}, errNotFound("EPISODE_NOT_FOUND", "episode not found")
	}
	return ep, nil
}

func (s *Service) catalogErr(err error) error {
	if errors.Is(err, catalog.ErrNotFound) {
		return errNotFound("EPISODE_NOT_FOUND", "episode not found")
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	s.log().Warn("catalog read failed", zap.Error(err))
	return errUnavailable("CATALOG_UNAVAILABLE", "catalog unavailable", catalogRetryAfter)
}

func validateUpdate(u store.Update) map[string]string {
	out := map[string]string{}
	if math.IsNaN(u.WatchedPercent) || math.IsInf(u.WatchedPercent, 0) || u.WatchedPercent < 0 || u.WatchedPercent > 100 {
		out["watched_percent"] = "must be between 0 and 100"
	}
	if math.IsNaN(u.LastPositionSeconds) || math.IsInf(u.LastPositionSeconds, 0) || u.LastPositionSeconds < 0 {
		out["last_position_seconds"] = "must be a non-negative number"
	}
	return out
}
