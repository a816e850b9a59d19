package natsconn

import (
	"testing"
	"time"
)

func TestOptions_DefaultsFromEnv(t *testing.T) {
	t.Setenv("NATS_URL", "nats://example:4222")
	t.Setenv("NATS_MAX_RECONNECTS", "9")
	t.Setenv("NATS_RECONNECT_WAIT", "250ms")

	o := Options{}.withDefaults()
	if o.URL != "nats://example:4222" {
		t.Fatalf("expected env url, got %q", o.URL)
	}
	if o.MaxReconnects != 9 {
		t.Fatalf("expected 9 reconnects, got %d", o.MaxReconnects)
	}
	if o.ReconnectWait != 250*time.Millisecond {
		t.Fatalf("expected 250ms, got %s", o.ReconnectWait)
	}
}

func TestOptions_ExplicitValuesWin(t *testing.T) {
	t.Setenv("NATS_MAX_RECONNECTS", "9")
	o := Options{URL: "nats://local:4222", MaxReconnects: 1, ReconnectWait: time.Second}.withDefaults()
	if o.URL != "nats://local:4222" || o.MaxReconnects != 1 || o.ReconnectWait != time.Second {
		t.Fatalf("expected explicit options to be kept, got %+v", o)
	}
}

func TestMergeSubjects(t *testing.T) {
	merged, changed := mergeSubjects([]string{"progress.upsert"}, []string{"progress.upsert", "progress.dlq"})
	if !changed {
		t.Fatal("expected a change when a subject is missing")
	}
	if len(merged) != 2 || merged[0] != "progress.upsert" || merged[1] != "progress.dlq" {
		t.Fatalf("expected [progress.upsert progress.dlq], got %v", merged)
	}
	if _, changed := mergeSubjects([]string{"a", "b"}, []string{"b"}); changed {
		t.Fatal("expected no change when subjects are covered")
	}
}

func TestConnect_Unreachable(t *testing.T) {
	_, err := Connect(Options{
		URL:           "nats://127.0.0.1:19999",
		MaxReconnects: 1,
		ReconnectWait: 10 * time.Millisecond,
	})
	if err == nil {
		t.Fatal("expected error connecting to an unreachable NATS server")
	}
}
