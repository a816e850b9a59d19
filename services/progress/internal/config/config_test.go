package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"NATS_URL", "GRPC_ADDR", "PROGRESS_SEEK_BUFFER", "PROGRESS_SAVE_INTERVAL", "AGGREGATE_CACHE_TTL", "PROGRESS_ASYNC_WRITES"} {
		t.Setenv(k, "")
	}
	cfg := Load()
	if cfg.NATSURL != "nats://nats:4222" {
		t.Fatalf("expected default nats url, got %q", cfg.NATSURL)
	}
	if cfg.GRPCAddr != ":9090" {
		t.Fatalf("expected :9090, got %q", cfg.GRPCAddr)
	}
	if cfg.SeekBufferSeconds != 2 || cfg.SaveInterval != 5*time.Second {
		t.Fatalf("unexpected tracker defaults: %+v", cfg)
	}
	if cfg.AggregateCacheTTL != time.Minute || cfg.AsyncWrites {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PROGRESS_SEEK_BUFFER", "3.5")
	t.Setenv("PROGRESS_SAVE_INTERVAL", "2s")
	t.Setenv("PROGRESS_ASYNC_WRITES", "true")
	t.Setenv("REDIS_URL", " redis://cache:6379/0 ")

	cfg := Load()
	if cfg.SeekBufferSeconds != 3.5 || cfg.SaveInterval != 2*time.Second || !cfg.AsyncWrites {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.RedisURL != "redis://cache:6379/0" {
		t.Fatalf("expected trimmed redis url, got %q", cfg.RedisURL)
	}
}
