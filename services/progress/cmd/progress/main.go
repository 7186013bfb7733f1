package main

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/example/watch-progress/internal/platform/analytics"
	"github.com/example/watch-progress/internal/platform/auth"
	"github.com/example/watch-progress/internal/platform/config"
	"github.com/example/watch-progress/internal/platform/db"
	"github.com/example/watch-progress/internal/platform/httpserver"
	"github.com/example/watch-progress/internal/platform/idempotency"
	"github.com/example/watch-progress/internal/platform/logging"
	"github.com/example/watch-progress/internal/platform/natsconn"
	"github.com/example/watch-progress/internal/platform/run"
	progressconfig "github.com/example/watch-progress/services/progress/internal/config"
	"github.com/example/watch-progress/services/progress/internal/handlers"
	"github.com/example/watch-progress/services/progress/internal/service"
	"github.com/example/watch-progress/services/progress/internal/store"
	"github.com/example/watch-progress/services/progress/internal/worker"
	"github.com/example/watch-progress/services/progress/migrations"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	pcfg, err := progressconfig.Load()
	if err != nil {
		log.Error("progress config", zap.Error(err))
		run.Exit(1)
	}

	backend, pool, closeBackend, err := initBackend(log, pcfg)
	if err != nil {
		log.Error("progress store", zap.String("driver", pcfg.StoreDriver), zap.Error(err))
		run.Exit(1)
	}
	defer closeBackend()

	var rdb *redis.Client
	if pcfg.RedisURL != "" {
		rdb = store.NewRedisClient(pcfg.RedisURL)
		defer func() { _ = rdb.Close() }()
		backend = store.NewCachedStore(backend, rdb, pcfg.CacheTTL, log)
		log.Info("progress cache: redis", zap.Duration("ttl", pcfg.CacheTTL))
	}

	var js nats.JetStreamContext
	if pcfg.NATSURL != "" {
		nc, err := natsconn.Connect(natsconn.Options{URL: pcfg.NATSURL, Name: cfg.ServiceName, Logger: log})
		if err != nil {
			if pcfg.ConsumerEnabled {
				log.Error("nats connect", zap.Error(err))
				run.Exit(1)
			}
			log.Warn("NATS unavailable, progress events will not be published", zap.Error(err))
		} else {
			defer nc.Close()
			if js, err = nc.JetStream(); err != nil {
				log.Error("jetstream", zap.Error(err))
				run.Exit(1)
			}
		}
	}

	tracker := service.NewTracker(store.NewGateway(backend),
		service.WithPublisher(analytics.New(js, log)),
		service.WithLogger(log),
	)

	var consumer *worker.ObservationConsumer
	if pcfg.ConsumerEnabled && js != nil {
		seen, err := idempotency.New(idempotency.Options{
			Redis:          rdb,
			Pool:           pool,
			TTL:            pcfg.IdempotencyTTL,
			RequireDurable: pcfg.Production,
		})
		if err != nil {
			log.Error("idempotency store", zap.Error(err))
			run.Exit(1)
		}
		consumer = worker.NewObservationConsumer(js, tracker, seen, log, worker.ConsumerOptions{
			BatchSize: config.EnvInt("WORKER_BATCH_SIZE", 100),
			MaxWait:   config.EnvDuration("WORKER_MAX_WAIT", 2*time.Second),
		})
	}

	deps := handlers.Deps{Tracker: tracker, Log: log}
	if pcfg.JWTSecret != "" {
		deps.Verifier = &auth.JWTVerifier{Secret: []byte(pcfg.JWTSecret)}
	} else {
		log.Warn("JWT_SECRET not set, userId is taken from requests and admin routes are disabled")
	}
	if pcfg.RateLimitRPS > 0 {
		deps.Limiter = httpserver.NewRateLimiter(pcfg.RateLimitRPS, pcfg.RateLimitBurst)
	}

	r := chi.NewRouter()
	httpserver.SetupRouter(r, httpserver.RouterConfig{
		Logger: log,
		ReadyFunc: func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return tracker.Ready(ctx)
		},
	})
	handlers.Register(r, deps)

	srv := httpserver.New(httpserver.Options{Addr: cfg.HTTP.Addr, ServiceName: cfg.ServiceName, Logger: log, Router: r})

	runner := run.New(log)
	code := runner.WithSignals(func(ctx context.Context) error {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return srv.Start(log) })
		if consumer != nil {
			g.Go(func() error { return consumer.Run(gctx) })
		}
		g.Go(func() error {
			<-gctx.Done()
			runner.Graceful(gctx, srv.Shutdown)
			return nil
		})
		return g.Wait()
	})

	log.Info("exit", zap.Int("code", code))
	run.Exit(code)
}

// initBackend opens and migrates the configured store. The returned pool is
// non-nil only for postgres.
func initBackend(log *zap.Logger, cfg progressconfig.Config) (store.Backend, *pgxpool.Pool, func(), error) {
	switch cfg.StoreDriver {
	case progressconfig.DriverPostgres:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		pool, err := db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := db.MigratePostgres(pool, migrations.Postgres, "postgres"); err != nil {
			pool.Close()
			return nil, nil, nil, err
		}
		log.Info("progress store: postgres")
		return store.NewPostgresStore(pool), pool, pool.Close, nil

	case progressconfig.DriverSQLite:
		sqlDB, err := store.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := db.MigrateSQLite(sqlDB, migrations.SQLite, "sqlite"); err != nil {
			_ = sqlDB.Close()
			return nil, nil, nil, err
		}
		log.Info("progress store: sqlite", zap.String("path", cfg.SQLitePath))
		return store.NewSQLiteStore(sqlDB), nil, closeSQL(sqlDB), nil

	default:
		log.Warn("progress store: in-memory (development only)")
		return store.NewInMemoryStore(), nil, func() {}, nil
	}
}

func closeSQL(sqlDB *sql.DB) func() {
	return func() { _ = sqlDB.Close() }
}
