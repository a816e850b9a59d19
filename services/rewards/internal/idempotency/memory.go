package idempotency

import (
	"context"
	"sync"
)

// memoryStore is a development-only in-memory idempotency store.
// State is lost on restart and is not shared across instances.
type memoryStore struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func newMemoryStore() *memoryStore {
	return &memoryStore{seen: make(map[string]struct{})}
}

func (s *memoryStore) Claim(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[key]; ok {
		return true, nil
	}
	s.seen[key] = struct{}{}
	return false, nil
}

func (s *memoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.seen, key)
	return nil
}
