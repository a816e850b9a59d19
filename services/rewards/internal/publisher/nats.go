// Package publisher provides NATS JetStream event publishing for rewards.
package publisher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/example/learning-platform/internal/platform/natsconn"
)

const (
	SubjectRewardGranted = "rewards.granted"
	streamName           = "REWARDS"
)

// Publisher publishes reward events to NATS JetStream.
type Publisher struct {
	nc  *nats.Conn
	js  nats.JetStreamContext
	log *zap.Logger
}

// New connects to NATS and ensures the REWARDS stream exists.
// If natsURL is empty, returns a no-op publisher (stub).
func New(natsURL string, log *zap.Logger) (*Publisher, error) {
	if natsURL == "" {
		log.Warn("NATS_URL not set, reward events will not be published (stub mode)")
		return &Publisher{log: log}, nil
	}

	nc, err := natsconn.Connect(natsconn.Options{URL: natsURL, Name: "rewards", Logger: log})
	if err != nil {
		return nil, err
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, err
	}
	if err := natsconn.EnsureStream(js, streamName, []string{"rewards.>"}, 30*24*time.Hour); err != nil {
		log.Warn("failed to ensure NATS stream", zap.Error(err))
	}

	log.Info("NATS publisher initialised", zap.String("stream", streamName))
	return &Publisher{nc: nc, js: js, log: log}, nil
}

// JetStream returns the underlying context, nil in stub mode.
func (p *Publisher) JetStream() nats.JetStreamContext {
	return p.js
}

// GrantedEvent is the payload of rewards.granted.
type GrantedEvent struct {
	EventID     string    `json:"event_id"`
	UserID      string    `json:"user_id"`
	Rule        string    `json:"rule"`
	ReferenceID string    `json:"reference_id"`
	Points      int       `json:"points"`
	GrantedAt   time.Time `json:"granted_at"`
}

// Publish sends evt to subject. The event id doubles as the JetStream
// dedup id. If JetStream is not configured (stub), it logs and returns nil.
func (p *Publisher) Publish(ctx context.Context, subject string, evt GrantedEvent) error {
	if p.js == nil {
		p.log.Debug("NATS stub: skipping publish", zap.String("subject", subject), zap.String("event_id", evt.EventID))
		return nil
	}

	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}

	ack, err := p.js.Publish(subject, data, nats.Context(ctx), nats.MsgId(evt.EventID))
	if err != nil {
		return err
	}

	p.log.Debug("NATS event published",
		zap.String("subject", subject),
		zap.String("event_id", evt.EventID),
		zap.Uint64("seq", ack.Sequence),
	)
	return nil
}

// Close drains the connection New opened.
func (p *Publisher) Close() {
	if p.nc != nil {
		_ = p.nc.Drain()
	}
}
