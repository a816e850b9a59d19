// Package worker applies asynchronous progress writes published by
// store.JetStreamSaver.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/example/learning-platform/services/progress/internal/metrics"
	"github.com/example/learning-platform/services/progress/internal/store"
)

const (
	durableName = "progress_upsert"
	SubjectDLQ  = "progress.dlq"

	defaultBatchSize  = 100
	defaultMaxDeliver = 5
	fetchWait         = 2 * time.Second
)

// delivery is the part of *nats.Msg the consumer acknowledges through.
type delivery interface {
	Ack(opts ...nats.AckOpt) error
	NakWithDelay(delay time.Duration, opts ...nats.AckOpt) error
	Metadata() (*nats.MsgMetadata, error)
}

type Consumer struct {
	Log     *zap.Logger
	JS      nats.JetStreamContext
	Applier Applier

	BatchSize  int
	MaxDeliver int
}

func NewConsumer(log *zap.Logger, js nats.JetStreamContext, applier Applier) *Consumer {
	return &Consumer{Log: log, JS: js, Applier: applier, BatchSize: defaultBatchSize, MaxDeliver: defaultMaxDeliver}
}

// Run pulls until ctx is cancelled. The stream must already exist.
func (c *Consumer) Run(ctx context.Context) error {
	sub, err := c.JS.PullSubscribe(store.SubjectProgressUpsert, durableName)
	if err != nil {
		return fmt.Errorf("progress consumer: subscribe: %w", err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	c.Log.Info("consumer started", zap.String("subject", store.SubjectProgressUpsert))
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		msgs, err := sub.Fetch(c.BatchSize, nats.MaxWait(fetchWait))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			c.Log.Warn("fetch failed", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		for _, m := range msgs {
			c.handle(ctx, m, m.Data)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, m delivery, data []byte) {
	numDelivered := uint64(1)
	if md, _ := m.Metadata(); md != nil {
		numDelivered = md.NumDelivered
	}

	if c.MaxDeliver > 0 && int(numDelivered) > c.MaxDeliver {
		c.deadLetter(data, fmt.Sprintf("max deliveries exceeded: %d", numDelivered))
		metrics.ConsumerMessagesTotal.WithLabelValues("dead_lettered").Inc()
		_ = m.Ack()
		return
	}

	var ev store.UpsertEvent
	if err := json.Unmarshal(data, &ev); err != nil || ev.EventID == "" || ev.UserID == uuid.Nil || ev.EpisodeID == uuid.Nil {
		c.Log.Warn("bad payload", zap.Error(err))
		c.deadLetter(data, "bad payload")
		metrics.ConsumerMessagesTotal.WithLabelValues("dead_lettered").Inc()
		_ = m.Ack()
		return
	}

	applied, err := c.Applier.Apply(ctx, ev, data)
	if err != nil {
		c.Log.Warn("apply failed",
			zap.String("event_id", ev.EventID),
			zap.Uint64("attempt", numDelivered),
			zap.Error(err),
		)
		metrics.ConsumerMessagesTotal.WithLabelValues("retried").Inc()
		_ = m.NakWithDelay(backoffDelay(numDelivered))
		return
	}
	if applied {
		metrics.ConsumerMessagesTotal.WithLabelValues("applied").Inc()
	} else {
		metrics.ConsumerMessagesTotal.WithLabelValues("duplicate").Inc()
	}
	_ = m.Ack()
}

func (c *Consumer) deadLetter(data []byte, reason string) {
	if c.JS == nil {
		return
	}
	msg := map[string]any{"subject": store.SubjectProgressUpsert, "reason": reason, "payload": json.RawMessage(data)}
	if !json.Valid(data) {
		msg["payload"] = string(data)
	}
	b, _ := json.Marshal(msg)
	if _, err := c.JS.Publish(SubjectDLQ, b); err != nil {
		c.Log.Warn("dlq publish failed", zap.Error(err))
	}
}
