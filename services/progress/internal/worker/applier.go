package worker

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/example/learning-platform/services/progress/internal/store"
)

// Applier writes one async progress event exactly once. applied is false when
// the event id was already processed.
type Applier interface {
	Apply(ctx context.Context, ev store.UpsertEvent, raw []byte) (applied bool, err error)
}

// PostgresApplier records the event id in processed_events and merges the
// update in the same transaction.
type PostgresApplier struct {
	Pool  *pgxpool.Pool
	Store *store.PostgresProgressStore
}

func (a PostgresApplier) Apply(ctx context.Context, ev store.UpsertEvent, raw []byte) (bool, error) {
	tx, err := a.Pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ct, err := tx.Exec(ctx, `INSERT INTO processed_events (event_id, subject, created_at, payload) VALUES ($1,$2,$3,$4) ON CONFLICT (event_id) DO NOTHING`,
		ev.EventID, store.SubjectProgressUpsert, ev.CreatedAt, raw)
	if err != nil {
		return false, err
	}
	if ct.RowsAffected() == 0 {
		return false, nil
	}
	if _, err := a.Store.UpsertTx(ctx, tx, ev.UserID, ev.EpisodeID, ev.Update); err != nil {
		return false, err
	}
	return true, tx.Commit(ctx)
}

// MemoryApplier is the development counterpart of PostgresApplier.
type MemoryApplier struct {
	Store store.ProgressStore

	mu   sync.Mutex
	seen map[string]struct{}
}

func (a *MemoryApplier) Apply(ctx context.Context, ev store.UpsertEvent, _ []byte) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.seen == nil {
		a.seen = make(map[string]struct{})
	}
	if _, ok := a.seen[ev.EventID]; ok {
		return false, nil
	}
	if _, err := a.Store.Upsert(ctx, ev.UserID, ev.EpisodeID, ev.Update); err != nil {
		return false, err
	}
	a.seen[ev.EventID] = struct{}{}
	return true, nil
}
