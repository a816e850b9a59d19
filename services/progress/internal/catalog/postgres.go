package catalog

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// PostgresReader is the production catalog reader.
type PostgresReader struct {
	db *pgxpool.Pool
}

func NewPostgresReader(db *pgxpool.Pool) *PostgresReader {
	return &PostgresReader{db: db}
}

const episodeColumns = `id, subject_id, ordinal, reward_points, duration_seconds, media_kind, media_url, embed_ref, published`

func scanEpisode(row pgx.Row) (Episode, error) {
	var e Episode
	var kind string
	err := row.Scan(&e.ID, &e.SubjectID, &e.Ordinal, &e.RewardPoints, &e.DurationSeconds, &kind, &e.MediaURL, &e.EmbedRef, &e.Published)
	e.MediaKind = MediaKind(kind)
	return e, err
}

func (r *PostgresReader) GetEpisode(ctx context.Context, id uuid.UUID) (Episode, error) {
	e, err := scanEpisode(r.db.QueryRow(ctx, `SELECT `+episodeColumns+` FROM episodes WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Episode{}, ErrNotFound
		}
		return Episode{}, status.Error(codes.Internal, "db")
	}
	return e, nil
}

func (r *PostgresReader) GetSubject(ctx context.Context, id uuid.UUID) (Subject, error) {
	var s Subject
	var mode string
	err := r.db.QueryRow(ctx, `SELECT id, category_id, unlock_mode, ordinal FROM subjects WHERE id=$1`, id).
		Scan(&s.ID, &s.CategoryID, &mode, &s.Ordinal)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Subject{}, ErrNotFound
		}
		return Subject{}, status.Error(codes.Internal, "db")
	}
	s.UnlockMode = UnlockMode(mode)
	return s, nil
}

func (r *PostgresReader) PublishedEpisodesBySubjects(ctx context.Context, subjectIDs []uuid.UUID) ([]Episode, error) {
	if len(subjectIDs) == 0 {
		return nil, nil
	}
	rows, err := r.db.Query(ctx, `
SELECT `+episodeColumns+`
FROM episodes
WHERE subject_id = ANY($1::uuid[]) AND published
ORDER BY subject_id, ordinal`, subjectIDs)
	if err != nil {
		return nil, status.Error(codes.Internal, "db query")
	}
	defer rows.Close()

	var out []Episode
	for rows.Next() {
		e, err := scanEpisode(rows)
		if err != nil {
			return nil, status.Error(codes.Internal, "db scan")
		}
		out = append(out, e)
	}
	if rows.Err() != nil {
		return nil, status.Error(codes.Internal, "db rows")
	}
	return out, nil
}

func (r *PostgresReader) SubjectsByCategories(ctx context.Context, categoryIDs []uuid.UUID) ([]Subject, error) {
	if len(categoryIDs) == 0 {
		return nil, nil
	}
	rows, err := r.db.Query(ctx, `
SELECT id, category_id, unlock_mode, ordinal
FROM subjects
WHERE category_id = ANY($1::uuid[])
ORDER BY category_id, ordinal`, categoryIDs)
	if err != nil {
		return nil, status.Error(codes.Internal, "db query")
	}
	defer rows.Close()

	var out []Subject
	for rows.Next() {
		var s Subject
		var mode string
		if err := rows.Scan(&s.ID, &s.CategoryID, &mode, &s.Ordinal); err != nil {
			return nil, status.Error(codes.Internal, "db scan")
		}
		s.UnlockMode = UnlockMode(mode)
		out = append(out, s)
	}
	if rows.Err() != nil {
		return nil, status.Error(codes.Internal, "db rows")
	}
	return out, nil
}

func (r *PostgresReader) PreviousPublishedEpisode(ctx context.Context, ep Episode) (Episode, error) {
	e, err := scanEpisode(r.db.QueryRow(ctx, `
SELECT `+episodeColumns+`
FROM episodes
WHERE subject_id=$1 AND published AND ordinal < $2
ORDER BY ordinal DESC
LIMIT 1`, ep.SubjectID, ep.Ordinal))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Episode{}, ErrNotFound
		}
		return Episode{}, status.Error(codes.Internal, "db")
	}
	return e, nil
}
