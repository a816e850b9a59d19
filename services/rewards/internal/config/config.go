package config

import (
	"os"
	"strings"
	"time"

	platformcfg "github.com/example/learning-platform/internal/platform/config"
)

type Config struct {
	// DatabaseURL backs the ledger and the idempotency fallback.
	DatabaseURL string
	// RedisURL is the primary idempotency backend.
	RedisURL string
	// NATSURL is the NATS server URL for event publishing.
	NATSURL   string
	JWTSecret string
	// IdempotencyTTL bounds how long a claim is remembered outside the ledger.
	IdempotencyTTL time.Duration
	// DefaultEpisodePoints applies when the caller sends no episode_points.
	DefaultEpisodePoints int
}

func Load() Config {
	natsURL := strings.TrimSpace(os.Getenv("NATS_URL"))
	if natsURL == "" {
		natsURL = "nats://nats:4222"
	}
	return Config{
		DatabaseURL:          strings.TrimSpace(os.Getenv("DATABASE_URL")),
		RedisURL:             strings.TrimSpace(os.Getenv("REDIS_URL")),
		NATSURL:              natsURL,
		JWTSecret:            strings.TrimSpace(os.Getenv("JWT_SECRET")),
		IdempotencyTTL:       platformcfg.EnvDuration("REWARDS_IDEMPOTENCY_TTL", 30*24*time.Hour),
		DefaultEpisodePoints: platformcfg.EnvInt("REWARDS_DEFAULT_EPISODE_POINTS", 10),
	}
}
