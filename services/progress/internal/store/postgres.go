package store

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	// batchChunk bounds the id array of a single GetBatch query.
	batchChunk       = 1000
	batchConcurrency = 4
)

// PostgresProgressStore is the production Postgres-backed implementation.
type PostgresProgressStore struct {
	db *pgxpool.Pool
}

func NewPostgresProgressStore(db *pgxpool.Pool) *PostgresProgressStore {
	return &PostgresProgressStore{db: db}
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const upsertSQL = `
INSERT INTO user_episode_progress (user_id, episode_id, watched_percent, last_position_seconds, completed_at, client_ts_ms, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (user_id, episode_id)
DO UPDATE SET
  watched_percent = CASE WHEN user_episode_progress.client_ts_ms <= EXCLUDED.client_ts_ms
                         THEN EXCLUDED.watched_percent ELSE user_episode_progress.watched_percent END,
  last_position_seconds = CASE WHEN user_episode_progress.client_ts_ms <= EXCLUDED.client_ts_ms
                         THEN EXCLUDED.last_position_seconds ELSE user_episode_progress.last_position_seconds END,
  client_ts_ms     = GREATEST(user_episode_progress.client_ts_ms, EXCLUDED.client_ts_ms),
  completed_at     = COALESCE(user_episode_progress.completed_at, EXCLUDED.completed_at),
  updated_at       = EXCLUDED.updated_at
RETURNING watched_percent, last_position_seconds, completed_at, client_ts_ms, updated_at`

func (r *PostgresProgressStore) Upsert(ctx context.Context, userID, episodeID uuid.UUID, u Update) (ProgressRecord, error) {
	return r.upsert(ctx, r.db, userID, episodeID, u)
}

// UpsertTx applies the same merge inside an existing transaction.
func (r *PostgresProgressStore) UpsertTx(ctx context.Context, tx pgx.Tx, userID, episodeID uuid.UUID, u Update) (ProgressRecord, error) {
	return r.upsert(ctx, tx, userID, episodeID, u)
}

func (r *PostgresProgressStore) upsert(ctx context.Context, q querier, userID, episodeID uuid.UUID, u Update) (ProgressRecord, error) {
	// timestamptz keeps micros; truncating here makes the returned row match what
	// a later read (and a cursor built from it) sees.
	now := time.Now().UTC().Truncate(time.Microsecond)
	u, err := u.Normalize(now)
	if err != nil {
		return ProgressRecord{}, status.Error(codes.InvalidArgument, err.Error())
	}

	out := ProgressRecord{UserID: userID, EpisodeID: episodeID}
	err = q.QueryRow(ctx, upsertSQL,
		userID, episodeID, u.WatchedPercent, u.LastPositionSeconds, u.CompletedAt, u.ClientTsMs, now,
	).Scan(&out.WatchedPercent, &out.LastPositionSeconds, &out.CompletedAt, &out.ClientTsMs, &out.UpdatedAt)
	if err != nil {
		return ProgressRecord{}, status.Error(codes.Internal, "db")
	}
	return out, nil
}

func (r *PostgresProgressStore) Get(ctx context.Context, userID, episodeID uuid.UUID) (*ProgressRecord, error) {
	q := `SELECT watched_percent, last_position_seconds, completed_at, client_ts_ms, updated_at
	      FROM user_episode_progress WHERE user_id=$1 AND episode_id=$2`
	out := ProgressRecord{UserID: userID, EpisodeID: episodeID}
	err := r.db.QueryRow(ctx, q, userID, episodeID).
		Scan(&out.WatchedPercent, &out.LastPositionSeconds, &out.CompletedAt, &out.ClientTsMs, &out.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, status.Error(codes.Internal, "db")
	}
	return &out, nil
}

func (r *PostgresProgressStore) GetBatch(ctx context.Context, userID uuid.UUID, episodeIDs []uuid.UUID) ([]ProgressRecord, error) {
	if len(episodeIDs) == 0 {
		return nil, nil
	}
	chunks := chunkIDs(episodeIDs, batchChunk)
	results := make([][]ProgressRecord, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(batchConcurrency)
	for i, chunk := range chunks {
		g.Go(func() error {
			recs, err := r.getChunk(gctx, userID, chunk)
			if err != nil {
				return err
			}
			results[i] = recs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []ProgressRecord
	for _, recs := range results {
		out = append(out, recs...)
	}
	return out, nil
}

func (r *PostgresProgressStore) getChunk(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) ([]ProgressRecord, error) {
	rows, err := r.db.Query(ctx, `
SELECT episode_id, watched_percent, last_position_seconds, completed_at, client_ts_ms, updated_at
FROM user_episode_progress
WHERE user_id=$1 AND episode_id = ANY($2::uuid[])`, userID, ids)
	if err != nil {
		return nil, status.Error(codes.Internal, "db")
	}
	defer rows.Close()

	var out []ProgressRecord
	for rows.Next() {
		rec := ProgressRecord{UserID: userID}
		if err := rows.Scan(&rec.EpisodeID, &rec.WatchedPercent, &rec.LastPositionSeconds, &rec.CompletedAt, &rec.ClientTsMs, &rec.UpdatedAt); err != nil {
			return nil, status.Error(codes.Internal, "db")
		}
		out = append(out, rec)
	}
	if rows.Err() != nil {
		return nil, status.Error(codes.Internal, "db")
	}
	return out, nil
}

func chunkIDs(ids []uuid.UUID, size int) [][]uuid.UUID {
	var out [][]uuid.UUID
	for i := 0; i < len(ids); i += size {
		end := i + size
		if end > len(ids) {
			end = len(ids)
		}
		out = append(out, ids[i:end])
	}
	return out
}

func (r *PostgresProgressStore) ListRecent(ctx context.Context, userID uuid.UUID, limit int, cursor *Cursor) ([]ProgressRecord, error) {
	q := `SELECT episode_id, watched_percent, last_position_seconds, completed_at, client_ts_ms, updated_at
	      FROM user_episode_progress WHERE user_id=$1`
	args := []any{userID}

	if cursor != nil {
		q += " AND (updated_at, episode_id) < ($2, $3)"
		args = append(args, cursor.UpdatedAt, cursor.EpisodeID)
	}
	q += " ORDER BY updated_at DESC, episode_id DESC LIMIT $" + strconv.Itoa(len(args)+1)
	args = append(args, limit)

	rows, err := r.db.Query(ctx, q, args...)
	if err != nil {
		return nil, status.Error(codes.Internal, "db")
	}
	defer rows.Close()

	var out []ProgressRecord
	for rows.Next() {
		rec := ProgressRecord{UserID: userID}
		if err := rows.Scan(&rec.EpisodeID, &rec.WatchedPercent, &rec.LastPositionSeconds, &rec.CompletedAt, &rec.ClientTsMs, &rec.UpdatedAt); err != nil {
			return nil, status.Error(codes.Internal, "db")
		}
		out = append(out, rec)
	}
	if rows.Err() != nil {
		return nil, status.Error(codes.Internal, "db")
	}
	return out, nil
}
