// Package idempotency deduplicates reward claims before they reach the ledger.
//
// Primary backend: Redis SETNX with TTL (env REDIS_URL).
// Fallback: Postgres INSERT ... ON CONFLICT (env DATABASE_URL).
// If neither is available, an in-memory store is used (development only).
package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store claims keys atomically.
type Store interface {
	// Claim returns true if key was already claimed; otherwise it claims it.
	Claim(ctx context.Context, key string) (duplicate bool, err error)
	// Release forgets a claim whose work failed, so a retry can proceed.
	Release(ctx context.Context, key string) error
}

// NewStore creates the best available store: Redis > Postgres > in-memory.
// When isProd is true, the in-memory fallback is refused.
func NewStore(redisURL string, pool *pgxpool.Pool, ttl time.Duration, isProd bool) (Store, error) {
	if redisURL != "" {
		return newRedisStore(redisURL, ttl), nil
	}
	if pool != nil {
		return newPostgresStore(pool), nil
	}
	if isProd {
		return nil, errors.New("production requires REDIS_URL or DATABASE_URL for idempotency; in-memory store is not allowed")
	}
	return newMemoryStore(), nil
}
