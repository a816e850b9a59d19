package idempotency

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "rewards:idempotent:"

type redisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func newRedisStore(dsn string, ttl time.Duration) *redisStore {
	opts, err := redis.ParseURL(dsn)
	if err != nil {
		opts = &redis.Options{Addr: dsn}
	}
	return &redisStore{client: redis.NewClient(opts), ttl: ttl}
}

func (s *redisStore) Claim(ctx context.Context, key string) (bool, error) {
	set, err := s.client.SetNX(ctx, redisKeyPrefix+key, 1, s.ttl).Result()
	if err != nil {
		return false, err
	}
	// SetNX returns true if the key was SET (i.e. NOT a duplicate).
	return !set, nil
}

func (s *redisStore) Release(ctx context.Context, key string) error {
	return s.client.Del(ctx, redisKeyPrefix+key).Err()
}

func (s *redisStore) Close() error {
	return s.client.Close()
}
