package main

import (
	"context"

	"github.com/go-chi/chi/v5"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/example/watch-progress/internal/platform/config"
	"github.com/example/watch-progress/internal/platform/httpserver"
	"github.com/example/watch-progress/internal/platform/logging"
	"github.com/example/watch-progress/internal/platform/natsconn"
	"github.com/example/watch-progress/internal/platform/run"
	analyticsconfig "github.com/example/watch-progress/services/analytics/internal/config"
	"github.com/example/watch-progress/services/analytics/internal/consumer"
	"github.com/example/watch-progress/services/analytics/internal/handler"
	"github.com/example/watch-progress/services/analytics/internal/routes"
	"github.com/example/watch-progress/services/analytics/internal/tally"
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

	acfg := analyticsconfig.Load()

	nc, err := natsconn.Connect(natsconn.Options{URL: acfg.NATSURL, Name: cfg.ServiceName, Logger: log})
	if err != nil {
		log.Error("nats connect", zap.Error(err))
		run.Exit(1)
	}
	defer nc.Close()
	js, err := nc.JetStream()
	if err != nil {
		log.Error("jetstream", zap.Error(err))
		run.Exit(1)
	}

	counts := tally.NewMemory()
	c := consumer.New(js, handler.New(counts, log), acfg.BatchSize, acfg.MaxWait, log)

	r := chi.NewRouter()
	httpserver.SetupRouter(r, httpserver.RouterConfig{
		Logger: log,
		ReadyFunc: func() error {
			if !nc.IsConnected() {
				return nats.ErrConnectionClosed
			}
			return nil
		},
	})
	routes.Register(r, counts)

	srv := httpserver.New(httpserver.Options{Addr: cfg.HTTP.Addr, ServiceName: cfg.ServiceName, Logger: log, Router: r})

	runner := run.New(log)
	code := runner.WithSignals(func(ctx context.Context) error {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return srv.Start(log) })
		g.Go(func() error { return c.Run(gctx) })
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
