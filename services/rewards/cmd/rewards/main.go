package main

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/example/learning-platform/internal/platform/analytics"
	"github.com/example/learning-platform/internal/platform/auth"
	"github.com/example/learning-platform/internal/platform/config"
	"github.com/example/learning-platform/internal/platform/db"
	"github.com/example/learning-platform/internal/platform/httpserver"
	"github.com/example/learning-platform/internal/platform/logging"
	"github.com/example/learning-platform/internal/platform/run"
	rewardsconfig "github.com/example/learning-platform/services/rewards/internal/config"
	"github.com/example/learning-platform/services/rewards/internal/handlers"
	"github.com/example/learning-platform/services/rewards/internal/idempotency"
	"github.com/example/learning-platform/services/rewards/internal/ledger"
	"github.com/example/learning-platform/services/rewards/internal/publisher"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log, err := logging.New(cfg.LogLevel, cfg.ServiceName)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	rcfg := rewardsconfig.Load()
	isProd := cfg.IsProd()

	if rcfg.JWTSecret == "" {
		fatal(log, "JWT_SECRET is required")
	}

	pool := initPool(log, rcfg, isProd)

	idem, err := idempotency.NewStore(rcfg.RedisURL, pool, rcfg.IdempotencyTTL, isProd)
	if err != nil {
		fatal(log, "idempotency store", zap.Error(err))
	}
	log.Info("idempotency store initialised",
		zap.Bool("redis", rcfg.RedisURL != ""),
		zap.Bool("postgres", pool != nil),
	)

	var l ledger.Ledger = ledger.NewMemoryLedger()
	if pool != nil {
		l = ledger.NewPostgresLedger(pool)
	}

	pub, err := publisher.New(rcfg.NATSURL, log)
	if err != nil {
		if isProd {
			fatal(log, "NATS is required in production", zap.Error(err))
		}
		log.Warn("NATS unavailable, reward events will not be published", zap.Error(err))
		pub, _ = publisher.New("", log) // stub
	}
	if js := pub.JetStream(); js != nil {
		if err := analytics.EnsureStream(js); err != nil {
			log.Warn("ensure analytics stream", zap.Error(err))
		}
	}
	events := analytics.New(pub.JetStream(), log)

	h := handlers.NewRewardsHandler(log, idem, l, pub, events, rcfg.DefaultEpisodePoints)

	r := chi.NewRouter()
	httpserver.SetupRouter(r, httpserver.RouterConfig{
		ReadyFunc: func() error {
			if pool == nil {
				return nil
			}
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return pool.Ping(ctx)
		},
		Metrics: true,
	})
	handlers.Mount(r, auth.JWTVerifier{Secret: []byte(rcfg.JWTSecret)}, h)

	srv := httpserver.New(httpserver.Options{Addr: cfg.HTTP.Addr, ServiceName: cfg.ServiceName, Logger: log, Router: r})

	runner := run.New(log)
	runner.ShutdownTimeout = config.EnvDuration("SHUTDOWN_TIMEOUT", run.DefaultShutdownTimeout)
	code := runner.WithSignals(func(context.Context) error {
		return srv.Start(log)
	})

	runner.Graceful("http", srv.Shutdown)
	pub.Close()
	if c, ok := idem.(io.Closer); ok {
		_ = c.Close()
	}
	if pool != nil {
		pool.Close()
	}
	log.Info("exit", zap.Int("code", code))
	run.Exit(code)
}

func fatal(log *zap.Logger, msg string, fields ...zap.Field) {
	log.Error(msg, fields...)
	_ = log.Sync()
	os.Exit(1)
}

// initPool requires a working Postgres in production; development falls back
// to the in-memory ledger.
func initPool(log *zap.Logger, rcfg rewardsconfig.Config, isProd bool) *pgxpool.Pool {
	if rcfg.DatabaseURL == "" {
		if isProd {
			fatal(log, "DATABASE_URL is required in production")
		}
		log.Warn("DATABASE_URL not set, rewards ledger is kept in memory (development only)")
		return nil
	}
	pool, err := db.OpenDSN(context.Background(), rcfg.DatabaseURL)
	if err != nil {
		if isProd {
			fatal(log, "postgres unreachable in production", zap.Error(err))
		}
		log.Warn("postgres unavailable, rewards ledger is kept in memory", zap.Error(err))
		return nil
	}
	log.Info("postgres connected for rewards")
	return pool
}
