package config

import (
	"os"
	"strings"
	"time"

	platformcfg "github.com/example/learning-platform/internal/platform/config"
)

type Config struct {
	DatabaseURL string
	NATSURL     string
	// RedisURL enables the shared aggregate cache; empty keeps the cache in memory.
	RedisURL  string
	GRPCAddr  string
	JWTSecret string
	// RewardsURL is the rewards service base URL; empty uses an in-process gateway (dev only).
	RewardsURL string
	// MediaSigningSecret signs native media URLs handed to viewers.
	MediaSigningSecret string
	MediaURLTTL        time.Duration
	EmbedScriptURL     string

	SeekBufferSeconds float64
	SaveInterval      time.Duration
	PercentStep       float64
	PollInterval      time.Duration
	WriteTimeout      time.Duration
	AggregateCacheTTL time.Duration
	// AsyncWrites routes session saves through JetStream instead of direct upserts.
	AsyncWrites bool

	SessionRateLimit int
	WriteRateLimit   int
}

func Load() Config {
	natsURL := strings.TrimSpace(os.Getenv("NATS_URL"))
	if natsURL == "" {
		natsURL = "nats://nats:4222"
	}
	return Config{
		DatabaseURL:        strings.TrimSpace(os.Getenv("DATABASE_URL")),
		NATSURL:            natsURL,
		RedisURL:           strings.TrimSpace(os.Getenv("REDIS_URL")),
		GRPCAddr:           platformcfg.Env("GRPC_ADDR", ":9090"),
		JWTSecret:          strings.TrimSpace(os.Getenv("JWT_SECRET")),
		RewardsURL:         strings.TrimSpace(os.Getenv("REWARDS_URL")),
		MediaSigningSecret: strings.TrimSpace(os.Getenv("MEDIA_SIGNING_SECRET")),
		MediaURLTTL:        platformcfg.EnvDuration("MEDIA_URL_TTL", 6*time.Hour),
		EmbedScriptURL:     platformcfg.Env("EMBED_SCRIPT_URL", "https://player.vimeo.com/api/player.js"),

		SeekBufferSeconds: platformcfg.EnvFloat("PROGRESS_SEEK_BUFFER", 2),
		SaveInterval:      platformcfg.EnvDuration("PROGRESS_SAVE_INTERVAL", 5*time.Second),
		PercentStep:       platformcfg.EnvFloat("PROGRESS_PERCENT_STEP", 1),
		PollInterval:      platformcfg.EnvDuration("PROGRESS_POLL_INTERVAL", time.Second),
		WriteTimeout:      platformcfg.EnvDuration("PROGRESS_WRITE_TIMEOUT", 10*time.Second),
		AggregateCacheTTL: platformcfg.EnvDuration("AGGREGATE_CACHE_TTL", 60*time.Second),
		AsyncWrites:       platformcfg.EnvBool("PROGRESS_ASYNC_WRITES", false),

		SessionRateLimit: platformcfg.EnvInt("SESSION_RATE_LIMIT", 30),
		WriteRateLimit:   platformcfg.EnvInt("PROGRESS_WRITE_RATE_LIMIT", 120),
	}
}
