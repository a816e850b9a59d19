package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestMemoryStore_SecondClaimIsDuplicate(t *testing.T) {
	s := newMemoryStore()
	ctx := context.Background()

	dup, err := s.Claim(ctx, "k1")
	if err != nil || dup {
		t.Fatalf("first claim should not be duplicate, got dup=%v err=%v", dup, err)
	}
	dup, _ = s.Claim(ctx, "k1")
	if !dup {
		t.Fatal("second claim should be duplicate")
	}
	other, _ := s.Claim(ctx, "k2")
	if other {
		t.Fatal("different keys should not collide")
	}
}

func TestMemoryStore_ReleaseAllowsRetry(t *testing.T) {
	s := newMemoryStore()
	ctx := context.Background()
	_, _ = s.Claim(ctx, "k")
	if err := s.Release(ctx, "k"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if dup, _ := s.Claim(ctx, "k"); dup {
		t.Fatal("expected claim after release to succeed")
	}
}

func TestRedisStore_ClaimReleaseAndTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	s := newRedisStore("redis://"+mr.Addr(), time.Minute)
	ctx := context.Background()

	if dup, err := s.Claim(ctx, "k"); err != nil || dup {
		t.Fatalf("first claim: dup=%v err=%v", dup, err)
	}
	if dup, _ := s.Claim(ctx, "k"); !dup {
		t.Fatal("expected duplicate")
	}
	if !mr.Exists(redisKeyPrefix + "k") {
		t.Fatal("expected prefixed key in redis")
	}

	if err := s.Release(ctx, "k"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if dup, _ := s.Claim(ctx, "k"); dup {
		t.Fatal("expected claim after release")
	}

	mr.FastForward(2 * time.Minute)
	if dup, _ := s.Claim(ctx, "k"); dup {
		t.Fatal("expected claim after ttl expiry")
	}
}

func TestNewStore_FallsBackToMemory(t *testing.T) {
	s, err := NewStore("", nil, 0, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := s.(*memoryStore); !ok {
		t.Fatalf("expected memoryStore when no backend provided, got %T", s)
	}
}

func TestNewStore_RejectsMemoryInProd(t *testing.T) {
	s, err := NewStore("", nil, 0, true)
	if err == nil || s != nil {
		t.Fatalf("expected error and nil store in production, got %T %v", s, err)
	}
}

func TestNewStore_PrefersRedis(t *testing.T) {
	s, _ := NewStore("redis://localhost:6379", nil, time.Minute, true)
	if _, ok := s.(*redisStore); !ok {
		t.Fatalf("expected redisStore, got %T", s)
	}
}
