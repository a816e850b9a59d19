package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

const (
	SubjectProgressUpsert = "progress.upsert"
	StreamName            = "PROGRESS"
)

// UpsertEvent is the payload of an async progress write.
type UpsertEvent struct {
	EventID   string    `json:"event_id"`
	UserID    uuid.UUID `json:"user_id"`
	EpisodeID uuid.UUID `json:"episode_id"`
	Update    Update    `json:"update"`
	CreatedAt time.Time `json:"created_at"`
}

// JetStreamSaver publishes saves to JetStream; the worker applies them with the
// store's merge semantics. A publish ack means the write is durable, not applied:
// the completion gate fires on it, and a message that ends in the DLQ must be
// replayed to restore the row behind a grant already made.
type JetStreamSaver struct {
	js nats.JetStreamContext
}

func NewJetStreamSaver(js nats.JetStreamContext) *JetStreamSaver {
	return &JetStreamSaver{js: js}
}

func (s *JetStreamSaver) Save(ctx context.Context, userID, episodeID uuid.UUID, u Update) error {
	now := time.Now().UTC()
	u, err := u.Normalize(now)
	if err != nil {
		return err
	}
	ev := UpsertEvent{
		EventID:   uuid.NewString(),
		UserID:    userID,
		EpisodeID: episodeID,
		Update:    u,
		CreatedAt: now,
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	// Dedup window on the server drops redelivered publishes of the same event.
	_, err = s.js.Publish(SubjectProgressUpsert, body, nats.Context(ctx), nats.MsgId(ev.EventID))
	return err
}
