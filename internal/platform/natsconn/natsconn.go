// Package natsconn provides a shared NATS connection factory with
// configurable reconnect behaviour and fail-fast semantics.
package natsconn

import (
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/example/learning-platform/internal/platform/config"
)

// Options configures the NATS connection behaviour.
// Zero values fall back to env vars or built-in defaults.
type Options struct {
	URL           string
	Name          string        // client name shown in server monitoring
	MaxReconnects int           // default from NATS_MAX_RECONNECTS or 5
	ReconnectWait time.Duration // default from NATS_RECONNECT_WAIT or 2s
	Logger        *zap.Logger   // receives disconnect/reconnect notices when set
}

func (o Options) withDefaults() Options {
	if o.URL == "" {
		o.URL = config.Env("NATS_URL", "nats://nats:4222")
	}
	if o.MaxReconnects == 0 {
		o.MaxReconnects = config.EnvInt("NATS_MAX_RECONNECTS", 5)
	}
	if o.ReconnectWait == 0 {
		o.ReconnectWait = config.EnvDuration("NATS_RECONNECT_WAIT", 2*time.Second)
	}
	return o
}

// Connect establishes a NATS connection with the configured retry policy.
// On failure it returns an error so the caller can fail-fast.
func Connect(opts Options) (*nats.Conn, error) {
	opts = opts.withDefaults()

	natsOpts := []nats.Option{
		nats.MaxReconnects(opts.MaxReconnects),
		nats.ReconnectWait(opts.ReconnectWait),
		nats.RetryOnFailedConnect(false),
	}
	if opts.Name != "" {
		natsOpts = append(natsOpts, nats.Name(opts.Name))
	}
	if log := opts.Logger; log != nil {
		natsOpts = append(natsOpts,
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				log.Warn("nats disconnected", zap.Error(err))
			}),
			nats.ReconnectHandler(func(nc *nats.Conn) {
				log.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
			}),
		)
	}

	nc, err := nats.Connect(opts.URL, natsOpts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s (max_reconnects=%d, wait=%s): %w",
			opts.URL, opts.MaxReconnects, opts.ReconnectWait, err)
	}
	return nc, nil
}

// EnsureStream creates the JetStream stream if missing, or widens its subjects
// when an existing stream does not cover all of them.
func EnsureStream(js nats.JetStreamContext, name string, subjects []string, maxAge time.Duration) error {
	info, err := js.StreamInfo(name)
	if err == nil {
		merged, changed := mergeSubjects(info.Config.Subjects, subjects)
		if !changed {
			return nil
		}
		cfg := info.Config
		cfg.Subjects = merged
		_, err = js.UpdateStream(&cfg)
		return err
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return err
	}
	_, err = js.AddStream(&nats.StreamConfig{
		Name:     name,
		Subjects: subjects,
		Storage:  nats.FileStorage,
		MaxAge:   maxAge,
	})
	return err
}

// mergeSubjects appends the wanted subjects a stream lacks, keeping the ones it
// already has so other publishers on the stream are not cut off.
func mergeSubjects(have, want []string) ([]string, bool) {
	seen := make(map[string]bool, len(have))
	out := append([]string(nil), have...)
	for _, s := range have {
		seen[s] = true
	}
	changed := false
	for _, s := range want {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
			changed = true
		}
	}
	return out, changed
}
