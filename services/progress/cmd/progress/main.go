package main

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/example/learning-platform/internal/platform/analytics"
	"github.com/example/learning-platform/internal/platform/auth"
	"github.com/example/learning-platform/internal/platform/config"
	"github.com/example/learning-platform/internal/platform/db"
	"github.com/example/learning-platform/internal/platform/httpserver"
	"github.com/example/learning-platform/internal/platform/logging"
	"github.com/example/learning-platform/internal/platform/natsconn"
	"github.com/example/learning-platform/internal/platform/run"
	"github.com/example/learning-platform/internal/platform/signing"
	"github.com/example/learning-platform/services/progress/internal/aggregate"
	"github.com/example/learning-platform/services/progress/internal/catalog"
	progressconfig "github.com/example/learning-platform/services/progress/internal/config"
	"github.com/example/learning-platform/services/progress/internal/grpcapi"
	"github.com/example/learning-platform/services/progress/internal/handlers"
	"github.com/example/learning-platform/services/progress/internal/live"
	"github.com/example/learning-platform/services/progress/internal/rewards"
	"github.com/example/learning-platform/services/progress/internal/service"
	"github.com/example/learning-platform/services/progress/internal/store"
	"github.com/example/learning-platform/services/progress/internal/tracker"
	"github.com/example/learning-platform/services/progress/internal/unlock"
	"github.com/example/learning-platform/services/progress/internal/worker"
)

const devJWTSecret = "dev-secret-change-me"

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

	pcfg := progressconfig.Load()
	isProd := cfg.IsProd()

	if pcfg.JWTSecret == "" {
		if isProd {
			fatal(log, "JWT_SECRET is required in production")
		}
		log.Warn("JWT_SECRET not set, using a development secret")
		pcfg.JWTSecret = devJWTSecret
	}

	pool := initPool(log, pcfg, isProd)
	cat, progress := initStores(log, pool)

	nc, js := initNATS(log, pcfg, isProd)
	cache, closeCache := initCache(log, pcfg, isProd)
	if nc != nil {
		if _, err := aggregate.SubscribeInvalidations(nc, cache, log); err != nil {
			log.Warn("aggregate invalidation subscribe failed", zap.Error(err))
		}
	}
	engine := aggregate.NewEngine(cat, progress, cache, nc, log)
	gateway := initRewards(log, pcfg, cat, isProd)
	if js != nil {
		if err := analytics.EnsureStream(js); err != nil {
			log.Warn("ensure analytics stream", zap.Error(err))
		}
	}
	events := analytics.New(js, log)

	var saver store.Saver = store.StoreSaver{Store: progress}
	var consumer *worker.Consumer
	if pcfg.AsyncWrites {
		if js == nil {
			fatal(log, "PROGRESS_ASYNC_WRITES requires NATS JetStream")
		}
		if err := natsconn.EnsureStream(js, store.StreamName, []string{store.SubjectProgressUpsert, worker.SubjectDLQ}, 7*24*time.Hour); err != nil {
			fatal(log, "ensure progress stream", zap.Error(err))
		}
		saver = store.NewJetStreamSaver(js)
		consumer = worker.NewConsumer(log, js, newApplier(pool, progress))
		log.Info("async progress writes enabled")
	}

	svc := &service.Service{
		Progress:   progress,
		Lister:     progress.(store.Lister),
		Catalog:    cat,
		Aggregates: engine,
		Log:        log,
	}

	var mediaSigner *signing.Signer
	if pcfg.MediaSigningSecret != "" {
		mediaSigner = signing.New(pcfg.MediaSigningSecret)
	} else if isProd {
		fatal(log, "MEDIA_SIGNING_SECRET is required in production")
	}

	hub := live.NewHub(live.Options{
		Catalog: cat,
		Access:  unlock.Checker{Catalog: cat, Progress: progress},
		Session: tracker.Deps{
			Progress:    progress,
			Saver:       saver,
			Rewards:     gateway,
			Invalidator: engine,
			Analytics:   events,
			Log:         log,
			Config: tracker.Config{
				SaveInterval: pcfg.SaveInterval,
				PercentStep:  pcfg.PercentStep,
				Guard:        tracker.SeekGuard{Buffer: pcfg.SeekBufferSeconds},
				Gate:         tracker.Gate{Threshold: store.CompletionThreshold},
			},
			WriteTimeout: pcfg.WriteTimeout,
			RetryBase:    time.Second,
			Now:          time.Now,
		},
		Signer:         mediaSigner,
		MediaURLTTL:    pcfg.MediaURLTTL,
		EmbedScriptURL: pcfg.EmbedScriptURL,
		PollInterval:   pcfg.PollInterval,
		AllowedOrigins: splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
		Log:            log,
	})

	r := chi.NewRouter()
	httpserver.SetupRouter(r, httpserver.RouterConfig{
		ReadyFunc: readiness(pool, cache),
		Metrics:   true,
	})
	handlers.Mount(r, handlers.Routes{
		Service:      svc,
		Verifier:     auth.JWTVerifier{Secret: []byte(pcfg.JWTSecret)},
		Sessions:     hub.ServeEpisode,
		WriteLimit:   pcfg.WriteRateLimit,
		SessionLimit: pcfg.SessionRateLimit,
	})
	srv := httpserver.New(httpserver.Options{Addr: cfg.HTTP.Addr, ServiceName: cfg.ServiceName, Logger: log, Router: r})

	lis, err := net.Listen("tcp", pcfg.GRPCAddr)
	if err != nil {
		fatal(log, "grpc listen", zap.Error(err))
	}
	grpcSrv := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcapi.UnaryLogging(log)))
	grpcapi.RegisterProgressServiceServer(grpcSrv, &grpcapi.ProgressService{Service: svc})
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)

	runner := run.New(log)
	runner.ShutdownTimeout = config.EnvDuration("SHUTDOWN_TIMEOUT", run.DefaultShutdownTimeout)
	code := runner.WithSignals(func(ctx context.Context) error {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return srv.Start(log) })
		g.Go(func() error {
			log.Info("grpc server starting", zap.String("addr", pcfg.GRPCAddr))
			return grpcSrv.Serve(lis)
		})
		if consumer != nil {
			g.Go(func() error { return consumer.Run(gctx) })
		}
		return g.Wait()
	})

	healthSrv.Shutdown()
	runner.Graceful("http", srv.Shutdown)
	runner.Graceful("sessions", hub.Shutdown)
	runner.Graceful("grpc", func(ctx context.Context) error {
		stopped := make(chan struct{})
		go func() {
			grpcSrv.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
			return nil
		case <-ctx.Done():
			grpcSrv.Stop()
			return ctx.Err()
		}
	})
	if nc != nil {
		_ = nc.Drain()
	}
	if closeCache != nil {
		closeCache()
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

// initPool requires Postgres in production; development runs without persistence.
func initPool(log *zap.Logger, pcfg progressconfig.Config, isProd bool) *pgxpool.Pool {
	if pcfg.DatabaseURL == "" {
		if isProd {
			fatal(log, "DATABASE_URL is required in production")
		}
		log.Warn("DATABASE_URL not set, progress is kept in memory (development only)")
		return nil
	}
	pool, err := db.OpenDSN(context.Background(), pcfg.DatabaseURL)
	if err != nil {
		if isProd {
			fatal(log, "postgres unreachable in production", zap.Error(err))
		}
		log.Warn("postgres unavailable, progress is kept in memory", zap.Error(err))
		return nil
	}
	log.Info("postgres connected")
	return pool
}

func initStores(log *zap.Logger, pool *pgxpool.Pool) (catalog.Reader, store.ProgressStore) {
	if pool == nil {
		log.Warn("catalog is empty without Postgres")
		return catalog.NewInMemoryReader(), store.NewInMemoryProgressStore()
	}
	return catalog.NewPostgresReader(pool), store.NewPostgresProgressStore(pool)
}

func initNATS(log *zap.Logger, pcfg progressconfig.Config, isProd bool) (*nats.Conn, nats.JetStreamContext) {
	nc, err := natsconn.Connect(natsconn.Options{URL: pcfg.NATSURL, Name: "progress", Logger: log})
	if err != nil {
		if isProd {
			fatal(log, "NATS is required in production", zap.Error(err))
		}
		log.Warn("NATS unavailable, no cross-instance invalidation or analytics", zap.Error(err))
		return nil, nil
	}
	js, err := nc.JetStream()
	if err != nil {
		log.Warn("jetstream unavailable", zap.Error(err))
		return nc, nil
	}
	return nc, js
}

func initCache(log *zap.Logger, pcfg progressconfig.Config, isProd bool) (aggregate.Cache, func()) {
	if pcfg.RedisURL == "" {
		return aggregate.NewTTLCache(pcfg.AggregateCacheTTL), nil
	}
	rc, err := aggregate.NewRedisCache(pcfg.RedisURL, pcfg.AggregateCacheTTL)
	if err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		err = rc.Ping(ctx)
		cancel()
	}
	if err != nil {
		if isProd {
			fatal(log, "REDIS_URL is set but Redis is unreachable in production", zap.Error(err))
		}
		log.Warn("redis unavailable, caching aggregates in memory", zap.Error(err))
		return aggregate.NewTTLCache(pcfg.AggregateCacheTTL), nil
	}
	log.Info("redis aggregate cache enabled")
	return rc, func() { _ = rc.Close() }
}

func initRewards(log *zap.Logger, pcfg progressconfig.Config, cat catalog.Reader, isProd bool) rewards.Gateway {
	if pcfg.RewardsURL == "" {
		if isProd {
			fatal(log, "REWARDS_URL is required in production")
		}
		log.Warn("REWARDS_URL not set, crediting completions in process (development only)")
		return rewards.NewInMemoryGateway(10)
	}
	signer := auth.Signer{Secret: []byte(pcfg.JWTSecret), TTL: 5 * time.Minute}
	return rewards.NewHTTPGateway(pcfg.RewardsURL, signer, cat)
}

func newApplier(pool *pgxpool.Pool, progress store.ProgressStore) worker.Applier {
	if pg, ok := progress.(*store.PostgresProgressStore); ok && pool != nil {
		return worker.PostgresApplier{Pool: pool, Store: pg}
	}
	return &worker.MemoryApplier{Store: progress}
}

func readiness(pool *pgxpool.Pool, cache aggregate.Cache) func() error {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		var errs []error
		if pool != nil {
			errs = append(errs, pool.Ping(ctx))
		}
		if rc, ok := cache.(*aggregate.RedisCache); ok {
			errs = append(errs, rc.Ping(ctx))
		}
		return errors.Join(errs...)
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
