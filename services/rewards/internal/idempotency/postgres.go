package idempotency

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

type postgresStore struct {
	pool *pgxpool.Pool
}

func newPostgresStore(pool *pgxpool.Pool) *postgresStore {
	return &postgresStore{pool: pool}
}

// Claim uses INSERT ... ON CONFLICT to atomically deduplicate.
// Table `reward_claims` must exist (see rewards migrations).
func (s *postgresStore) Claim(ctx context.Context, key string) (bool, error) {
	const q = `INSERT INTO reward_claims (claim_key, created_at)
	           VALUES ($1, now())
	           ON CONFLICT (claim_key) DO NOTHING`

	tag, err := s.pool.Exec(ctx, q, key)
	if err != nil {
		return false, err
	}
	// RowsAffected == 0 means the row already existed (duplicate).
	return tag.RowsAffected() == 0, nil
}

func (s *postgresStore) Release(ctx context.Context, key string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM reward_claims WHERE claim_key = $1`, key)
	return err
}
