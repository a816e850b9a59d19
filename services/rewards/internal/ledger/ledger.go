// Package ledger persists reward credits. One credit exists per
// (user, rule, reference); the unique key is the final word on duplicates.
package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

const RuleEpisodeComplete = "episode_complete"

type Entry struct {
	ID          uuid.UUID `json:"id"`
	UserID      uuid.UUID `json:"user_id"`
	Rule        string    `json:"rule"`
	ReferenceID uuid.UUID `json:"reference_id"`
	Points      int       `json:"points"`
	CreatedAt   time.Time `json:"created_at"`
}

type Ledger interface {
	// Credit inserts e unless a credit for the same (user, rule, reference)
	// exists; created reports whether this call inserted it.
	Credit(ctx context.Context, e Entry) (created bool, err error)
	Exists(ctx context.Context, userID uuid.UUID, rule string, referenceID uuid.UUID) (bool, error)
	// Balance sums a user's points.
	Balance(ctx context.Context, userID uuid.UUID) (int, error)
}

type entryKey struct {
	user uuid.UUID
	rule string
	ref  uuid.UUID
}

// MemoryLedger is a development-only ledger.
type MemoryLedger struct {
	mu      sync.Mutex
	entries map[entryKey]Entry
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{entries: make(map[entryKey]Entry)}
}

func (l *MemoryLedger) Credit(_ context.Context, e Entry) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := entryKey{e.UserID, e.Rule, e.ReferenceID}
	if _, ok := l.entries[k]; ok {
		return false, nil
	}
	l.entries[k] = e
	return true, nil
}

func (l *MemoryLedger) Exists(_ context.Context, userID uuid.UUID, rule string, referenceID uuid.UUID) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.entries[entryKey{userID, rule, referenceID}]
	return ok, nil
}

func (l *MemoryLedger) Balance(_ context.Context, userID uuid.UUID) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := 0
	for k, e := range l.entries {
		if k.user == userID {
			total += e.Points
		}
	}
	return total, nil
}
