package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/example/watch-progress/internal/platform/config"
	"github.com/example/watch-progress/internal/platform/logging"
	"github.com/example/watch-progress/internal/platform/run"
	playerconfig "github.com/example/watch-progress/services/player/internal/config"
	"github.com/example/watch-progress/services/player/internal/replay"
	"github.com/example/watch-progress/services/player/internal/reporter"
)

// answerPrompter answers every resume prompt the same way.
type answerPrompter struct {
	resume bool
	log    *zap.Logger
}

func (p answerPrompter) AskResume(_ context.Context, pos float64) (bool, error) {
	p.log.Info("resume prompt", zap.String("at", formatTime(pos)), zap.Bool("resume", p.resume))
	return p.resume, nil
}

func formatTime(sec float64) string {
	s := int(sec)
	return fmt.Sprintf("%d:%02d", s/60, s%60)
}

func main() {
	events := flag.String("events", "-", "JSON-lines event log, - for stdin")
	answer := flag.String("resume-answer", "yes", "answer to resume prompts: yes or no")
	flag.Parse()

	if err := config.LoadEnvFiles(strings.TrimSpace(os.Getenv("ENV_DIR"))); err != nil {
		panic(err)
	}
	log, err := logging.New(config.Env("LOG_LEVEL", "info"))
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	cfg, err := playerconfig.Load()
	if err != nil {
		log.Error("player config", zap.Error(err))
		run.Exit(2)
	}

	in, closeIn, err := openEvents(*events)
	if err != nil {
		log.Error("open events", zap.Error(err))
		run.Exit(2)
	}
	defer closeIn()

	var cache reporter.LocalCache = reporter.NewMemoryCache()
	if cfg.CacheDir != "" {
		fc, err := reporter.NewFileCache(cfg.CacheDir)
		if err != nil {
			log.Error("local cache", zap.Error(err))
			run.Exit(1)
		}
		cache = fc
	}

	cb := reporter.NewBreaker("progress-api", cfg.CBFailureThreshold, cfg.CBTimeout, log)
	client := reporter.NewClient(cfg.APIURL, reporter.ClientConfig{
		Token:      cfg.Token,
		MaxRetries: cfg.FetchMaxRetries,
		RetryDelay: cfg.FetchRetryDelay,
	}, reporter.WithCircuitBreaker(cb), reporter.WithLogger(log))
	client.HTTPClient.Timeout = cfg.RequestTimeout

	session := reporter.NewSession(client, reporter.SessionConfig{
		UserID:          cfg.UserID,
		VideoID:         cfg.VideoID,
		SampleThreshold: cfg.SampleThreshold,
		DebounceWindow:  cfg.DebounceWindow,
		ResumeMode:      cfg.ResumeMode,
		ReportTimeout:   cfg.RequestTimeout,
	},
		reporter.WithCache(cache),
		reporter.WithSessionLogger(log),
		reporter.WithPrompter(answerPrompter{resume: strings.EqualFold(*answer, "yes"), log: log}),
		reporter.OnCompleted(func(sum reporter.Summary) {
			log.Info("congratulations, video completed", zap.Float64("percentage", sum.Percentage))
		}),
	)

	code := run.New(log).WithSignals(func(ctx context.Context) error {
		defer session.Close()
		st, err := replay.Run(ctx, in, session, log)
		log.Info("replay finished", zap.Int("events", st.Events), zap.Int("resumeSeeks", len(st.Seeks)))
		return err
	})
	session.Close()

	v := session.View()
	fields := []zap.Field{
		zap.String("state", v.State.String()),
		zap.Int("watchedSeconds", v.WatchedSeconds),
		zap.Float64("percentage", v.Percentage),
		zap.Bool("completed", v.Completed),
		zap.Float64("resumePoint", v.ResumePoint),
	}
	if v.Err != nil {
		fields = append(fields, zap.NamedError("lastError", v.Err))
	}
	log.Info("session", fields...)
	run.Exit(code)
}

func openEvents(path string) (io.Reader, func(), error) {
	if path == "" || path == "-" {
		return os.Stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { _ = f.Close() }, nil
}
