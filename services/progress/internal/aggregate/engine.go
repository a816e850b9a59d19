package aggregate

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/example/learning-platform/services/progress/internal/catalog"
	"github.com/example/learning-platform/services/progress/internal/metrics"
	"github.com/example/learning-platform/services/progress/internal/store"
)

// Engine computes aggregates. A subject request costs one catalog read and one
// progress read regardless of how many subjects or episodes are involved; a
// category request adds one subject read.
//
// Anonymous callers and failed reads get zeroed aggregates, never an error.
type Engine struct {
	catalog  catalog.Reader
	progress store.ProgressStore
	cache    Cache
	nc       *nats.Conn
	log      *zap.Logger
}

// NewEngine wires an engine. cache and nc are optional.
func NewEngine(cat catalog.Reader, progress store.ProgressStore, cache Cache, nc *nats.Conn, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{catalog: cat, progress: progress, cache: cache, nc: nc, log: log}
}

func (e *Engine) SubjectAggregates(ctx context.Context, userID uuid.UUID, subjectIDs []uuid.UUID) []Aggregate {
	return e.aggregates(ctx, LevelSubject, userID, subjectIDs, e.computeSubjects)
}

func (e *Engine) CategoryAggregates(ctx context.Context, userID uuid.UUID, categoryIDs []uuid.UUID) []Aggregate {
	return e.aggregates(ctx, LevelCategory, userID, categoryIDs, e.computeCategories)
}

type computeFunc func(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]Aggregate, error)

func (e *Engine) aggregates(ctx context.Context, level Level, userID uuid.UUID, ids []uuid.UUID, compute computeFunc) []Aggregate {
	ids = dedupe(ids)
	if len(ids) == 0 {
		return []Aggregate{}
	}
	if userID == uuid.Nil {
		return zeroed(ids)
	}

	found := make(map[uuid.UUID]Aggregate, len(ids))
	misses := e.fromCache(ctx, level, userID, ids, found)
	if len(misses) > 0 {
		computed, err := compute(ctx, userID, misses)
		if err != nil {
			reason := "read_error"
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				reason = "timeout"
			}
			metrics.AggregateFallbacksTotal.WithLabelValues(string(level), reason).Inc()
			e.log.Warn("aggregate read failed, returning zeroed values",
				zap.String("level", string(level)), zap.Int("ids", len(misses)), zap.Error(err))
			for _, id := range misses {
				found[id] = Zero(id)
			}
		} else {
			for _, id := range misses {
				a := computed[id]
				a.ID = id
				found[id] = a
				e.store(ctx, cacheKey(level, userID, id), a)
			}
		}
	}

	out := make([]Aggregate, 0, len(ids))
	for _, id := range ids {
		out = append(out, found[id])
	}
	return out
}

func (e *Engine) fromCache(ctx context.Context, level Level, userID uuid.UUID, ids []uuid.UUID, found map[uuid.UUID]Aggregate) []uuid.UUID {
	if e.cache == nil {
		return ids
	}
	var misses []uuid.UUID
	for _, id := range ids {
		a, ok, err := e.cache.Get(ctx, cacheKey(level, userID, id))
		if err != nil {
			e.log.Debug("aggregate cache read failed", zap.Error(err))
		}
		metrics.ObserveCache(string(level), ok)
		if ok {
			found[id] = a
			continue
		}
		misses = append(misses, id)
	}
	return misses
}

func (e *Engine) store(ctx context.Context, key string, a Aggregate) {
	if e.cache == nil {
		return
	}
	if err := e.cache.Set(ctx, key, a); err != nil {
		e.log.Debug("aggregate cache write failed", zap.Error(err))
	}
}

func (e *Engine) computeSubjects(ctx context.Context, userID uuid.UUID, subjectIDs []uuid.UUID) (map[uuid.UUID]Aggregate, error) {
	eps, err := e.catalog.PublishedEpisodesBySubjects(ctx, subjectIDs)
	if err != nil {
		return nil, err
	}
	idx := map[uuid.UUID]store.ProgressRecord{}
	if len(eps) > 0 {
		episodeIDs := make([]uuid.UUID, 0, len(eps))
		for _, ep := range eps {
			episodeIDs = append(episodeIDs, ep.ID)
		}
		recs, err := e.progress.GetBatch(ctx, userID, episodeIDs)
		if err != nil {
			return nil, err
		}
		idx = store.Index(recs)
	}

	grouped := catalog.GroupBySubject(eps)
	out := make(map[uuid.UUID]Aggregate, len(subjectIDs))
	for _, sid := range subjectIDs {
		var t tally
		for _, epID := range grouped[sid] {
			var rec *store.ProgressRecord
			if r, ok := idx[epID]; ok {
				rec = &r
			}
			t.add(classify(rec))
		}
		out[sid] = t.aggregate(sid)
	}
	return out, nil
}

func (e *Engine) computeCategories(ctx context.Context, userID uuid.UUID, categoryIDs []uuid.UUID) (map[uuid.UUID]Aggregate, error) {
	subjects, err := e.catalog.SubjectsByCategories(ctx, categoryIDs)
	if err != nil {
		return nil, err
	}
	subjectIDs := make([]uuid.UUID, 0, len(subjects))
	for _, s := range subjects {
		subjectIDs = append(subjectIDs, s.ID)
	}
	subjectAggs := map[uuid.UUID]Aggregate{}
	if len(subjectIDs) > 0 {
		subjectAggs, err = e.computeSubjects(ctx, userID, subjectIDs)
		if err != nil {
			return nil, err
		}
	}

	tallies := make(map[uuid.UUID]*tally, len(categoryIDs))
	for _, id := range categoryIDs {
		tallies[id] = &tally{}
	}
	for _, s := range subjects {
		if t, ok := tallies[s.CategoryID]; ok {
			t.add(classifySubject(subjectAggs[s.ID]))
		}
	}
	out := make(map[uuid.UUID]Aggregate, len(categoryIDs))
	for id, t := range tallies {
		out[id] = t.aggregate(id)
	}
	return out, nil
}

// Invalidate drops the cached aggregates a user's progress on one episode can
// affect, locally and on every other instance.
func (e *Engine) Invalidate(ctx context.Context, userID, subjectID, categoryID uuid.UUID) error {
	keys := []string{cacheKey(LevelSubject, userID, subjectID)}
	if categoryID != uuid.Nil {
		keys = append(keys, cacheKey(LevelCategory, userID, categoryID))
	}
	var errs []error
	if e.cache != nil {
		errs = append(errs, e.cache.Delete(ctx, keys...))
	}
	for _, k := range keys {
		errs = append(errs, e.broadcast(k))
	}
	return errors.Join(errs...)
}

// Flush drops every cached aggregate cluster-wide.
func (e *Engine) Flush(ctx context.Context) error {
	var errs []error
	if e.cache != nil {
		errs = append(errs, e.cache.Flush(ctx))
	}
	errs = append(errs, e.broadcast("ALL"))
	return errors.Join(errs...)
}

func (e *Engine) broadcast(key string) error {
	if e.nc == nil {
		return nil
	}
	return e.nc.Publish(SubjectInvalidate, []byte(key))
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func zeroed(ids []uuid.UUID) []Aggregate {
	out := make([]Aggregate, 0, len(ids))
	for _, id := range ids {
		out = append(out, Zero(id))
	}
	return out
}
