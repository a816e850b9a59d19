package aggregate

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// SubjectInvalidate carries one cache key per message; an empty body or "ALL"
// drops everything.
const SubjectInvalidate = "progress.aggregates.invalidate"

const keyPrefix = "agg:"

func cacheKey(level Level, userID, id uuid.UUID) string {
	return keyPrefix + string(level) + ":" + userID.String() + ":" + id.String()
}

// Cache stores aggregates per (level, user, id). Implementations must be safe
// for concurrent use.
type Cache interface {
	Get(ctx context.Context, key string) (Aggregate, bool, error)
	Set(ctx context.Context, key string, a Aggregate) error
	Delete(ctx context.Context, keys ...string) error
	Flush(ctx context.Context) error
}

type cacheItem struct {
	val       Aggregate
	expiresAt time.Time
}

// TTLCache is an in-memory Cache with per-entry expiry.
type TTLCache struct {
	mu    sync.RWMutex
	items map[string]cacheItem
	ttl   time.Duration
	now   func() time.Time
}

func NewTTLCache(ttl time.Duration) *TTLCache {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &TTLCache{items: make(map[string]cacheItem), ttl: ttl, now: time.Now}
}

func (c *TTLCache) Get(_ context.Context, key string) (Aggregate, bool, error) {
	c.mu.RLock()
	it, ok := c.items[key]
	c.mu.RUnlock()
	if !ok {
		return Aggregate{}, false, nil
	}
	if c.now().After(it.expiresAt) {
		c.mu.Lock()
		if cur, ok2 := c.items[key]; ok2 && c.now().After(cur.expiresAt) {
			delete(c.items, key)
		}
		c.mu.Unlock()
		return Aggregate{}, false, nil
	}
	return it.val, true, nil
}

func (c *TTLCache) Set(_ context.Context, key string, a Aggregate) error {
	c.mu.Lock()
	c.items[key] = cacheItem{val: a, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
	return nil
}

func (c *TTLCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	for _, k := range keys {
		delete(c.items, k)
	}
	c.mu.Unlock()
	return nil
}

func (c *TTLCache) Flush(_ context.Context) error {
	c.mu.Lock()
	c.items = make(map[string]cacheItem)
	c.mu.Unlock()
	return nil
}

// SubscribeInvalidations applies invalidations broadcast by other instances to c.
func SubscribeInvalidations(nc *nats.Conn, c Cache, log *zap.Logger) (*nats.Subscription, error) {
	return nc.Subscribe(SubjectInvalidate, func(m *nats.Msg) {
		applyInvalidation(c, m.Data, log)
	})
}

func applyInvalidation(c Cache, data []byte, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	key := strings.TrimSpace(string(data))
	var err error
	if key == "" || strings.EqualFold(key, "ALL") {
		err = c.Flush(ctx)
	} else {
		err = c.Delete(ctx, key)
	}
	if err != nil && log != nil {
		log.Warn("aggregate cache invalidation failed", zap.String("key", key), zap.Error(err))
	}
}
