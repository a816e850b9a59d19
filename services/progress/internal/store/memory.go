package store

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type progressKey struct {
	user    uuid.UUID
	episode uuid.UUID
}

// InMemoryProgressStore is a development-only implementation with the same merge
// semantics as Postgres.
type InMemoryProgressStore struct {
	mu   sync.RWMutex
	rows map[progressKey]ProgressRecord
	now  func() time.Time

	batchCalls int
}

func NewInMemoryProgressStore() *InMemoryProgressStore {
	return &InMemoryProgressStore{rows: make(map[progressKey]ProgressRecord), now: time.Now}
}

func (s *InMemoryProgressStore) Get(_ context.Context, userID, episodeID uuid.UUID) (*ProgressRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.rows[progressKey{userID, episodeID}]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *InMemoryProgressStore) GetBatch(_ context.Context, userID uuid.UUID, episodeIDs []uuid.UUID) ([]ProgressRecord, error) {
	s.mu.Lock()
	s.batchCalls++
	s.mu.Unlock()

	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ProgressRecord
	for _, id := range episodeIDs {
		if rec, ok := s.rows[progressKey{userID, id}]; ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *InMemoryProgressStore) Upsert(_ context.Context, userID, episodeID uuid.UUID, u Update) (ProgressRecord, error) {
	now := s.now().UTC().Truncate(time.Microsecond)
	u, err := u.Normalize(now)
	if err != nil {
		return ProgressRecord{}, status.Error(codes.InvalidArgument, err.Error())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	k := progressKey{userID, episodeID}
	var cur *ProgressRecord
	if rec, ok := s.rows[k]; ok {
		cur = &rec
	}
	out := merge(cur, userID, episodeID, u, now)
	s.rows[k] = out
	return out, nil
}

// BatchCalls returns how many GetBatch calls were served.
func (s *InMemoryProgressStore) BatchCalls() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.batchCalls
}

func (s *InMemoryProgressStore) ListRecent(_ context.Context, userID uuid.UUID, limit int, cursor *Cursor) ([]ProgressRecord, error) {
	s.mu.RLock()
	var out []ProgressRecord
	for k, rec := range s.rows {
		if k.user != userID {
			continue
		}
		if cursor != nil && !olderThan(rec, *cursor) {
			continue
		}
		out = append(out, rec)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return olderThan(out[j], Cursor{UpdatedAt: out[i].UpdatedAt, EpisodeID: out[i].EpisodeID})
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// olderThan reports whether rec sorts strictly below c by (updated_at, episode_id).
func olderThan(rec ProgressRecord, c Cursor) bool {
	if !rec.UpdatedAt.Equal(c.UpdatedAt) {
		return rec.UpdatedAt.Before(c.UpdatedAt)
	}
	return bytes.Compare(rec.EpisodeID[:], c.EpisodeID[:]) < 0
}
