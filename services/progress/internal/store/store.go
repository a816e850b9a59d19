package store

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
)

// CompletionThreshold is the watched percent at which an episode counts as finished,
// for gating and for rewards alike.
const CompletionThreshold = 90.0

// MaxClientSkew bounds how far ahead of the server clock a client timestamp may
// be. Later stamps are replaced with server time so they cannot pin a row.
const MaxClientSkew = 30 * time.Second

var ErrInvalidUpdate = errors.New("store: invalid progress update")

// ProgressRecord is the persisted watch progress of one user on one episode.
type ProgressRecord struct {
	UserID              uuid.UUID  `json:"user_id"`
	EpisodeID           uuid.UUID  `json:"episode_id"`
	WatchedPercent      float64    `json:"watched_percent"`
	LastPositionSeconds float64    `json:"last_position_seconds"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`
	ClientTsMs          int64      `json:"client_ts_ms"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// IsComplete reports whether the record counts as completed.
func (r ProgressRecord) IsComplete() bool {
	return r.CompletedAt != nil || r.WatchedPercent >= CompletionThreshold
}

// IsStarted reports whether any progress beyond "opened" was recorded.
func (r ProgressRecord) IsStarted() bool {
	return r.WatchedPercent > 0
}

// Update carries the mutable fields of a save.
type Update struct {
	WatchedPercent      float64    `json:"watched_percent"`
	LastPositionSeconds float64    `json:"last_position_seconds"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`
	// ClientTsMs orders percent/position writes; stale ones keep the newer values.
	// Zero means "now".
	ClientTsMs int64 `json:"client_ts_ms"`
}

// Normalize clamps the update into its valid domain and stamps completion once the
// threshold is reached.
func (u Update) Normalize(now time.Time) (Update, error) {
	if math.IsNaN(u.WatchedPercent) || math.IsNaN(u.LastPositionSeconds) || math.IsInf(u.LastPositionSeconds, 0) {
		return Update{}, ErrInvalidUpdate
	}
	u.WatchedPercent = math.Max(0, math.Min(100, u.WatchedPercent))
	u.LastPositionSeconds = math.Max(0, u.LastPositionSeconds)
	if u.CompletedAt == nil && u.WatchedPercent >= CompletionThreshold {
		t := now.UTC()
		u.CompletedAt = &t
	}
	if u.ClientTsMs == 0 || u.ClientTsMs > now.Add(MaxClientSkew).UnixMilli() {
		u.ClientTsMs = now.UnixMilli()
	}
	return u, nil
}

// ProgressStore persists progress rows keyed by (user, episode).
//
// Upsert merges: completed_at, once set, is kept even when a later call omits it or
// carries a lower percent. Percent and position are last-write-wins by ClientTsMs.
type ProgressStore interface {
	// Get returns nil, nil when no row exists.
	Get(ctx context.Context, userID, episodeID uuid.UUID) (*ProgressRecord, error)
	// GetBatch returns the rows for any number of episodes without one query per id.
	GetBatch(ctx context.Context, userID uuid.UUID, episodeIDs []uuid.UUID) ([]ProgressRecord, error)
	Upsert(ctx context.Context, userID, episodeID uuid.UUID, u Update) (ProgressRecord, error)
}

// Cursor is the decoded form of the opaque pagination cursor of ListRecent.
type Cursor struct {
	UpdatedAt time.Time
	EpisodeID uuid.UUID
}

// Lister serves the "continue watching" listing.
type Lister interface {
	// ListRecent returns up to limit rows ordered by updated_at DESC, episode_id DESC.
	// cursor, if non-nil, is an exclusive bound for keyset pagination.
	ListRecent(ctx context.Context, userID uuid.UUID, limit int, cursor *Cursor) ([]ProgressRecord, error)
}

// Saver is the write side used by viewing sessions.
type Saver interface {
	Save(ctx context.Context, userID, episodeID uuid.UUID, u Update) error
}

// StoreSaver saves synchronously through a ProgressStore.
type StoreSaver struct {
	Store ProgressStore
}

func (s StoreSaver) Save(ctx context.Context, userID, episodeID uuid.UUID, u Update) error {
	_, err := s.Store.Upsert(ctx, userID, episodeID, u)
	return err
}

// Index maps rows by episode id.
func Index(recs []ProgressRecord) map[uuid.UUID]ProgressRecord {
	out := make(map[uuid.UUID]ProgressRecord, len(recs))
	for _, r := range recs {
		out[r.EpisodeID] = r
	}
	return out
}

func merge(cur *ProgressRecord, userID, episodeID uuid.UUID, u Update, now time.Time) ProgressRecord {
	if cur == nil {
		return ProgressRecord{
			UserID:              userID,
			EpisodeID:           episodeID,
			WatchedPercent:      u.WatchedPercent,
			LastPositionSeconds: u.LastPositionSeconds,
			CompletedAt:         u.CompletedAt,
			ClientTsMs:          u.ClientTsMs,
			UpdatedAt:           now,
		}
	}
	out := *cur
	if cur.ClientTsMs <= u.ClientTsMs {
		out.WatchedPercent = u.WatchedPercent
		out.LastPositionSeconds = u.LastPositionSeconds
		out.ClientTsMs = u.ClientTsMs
	}
	if out.CompletedAt == nil {
		out.CompletedAt = u.CompletedAt
	}
	out.UpdatedAt = now
	return out
}
