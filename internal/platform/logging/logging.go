package logging

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/example/watch-progress/internal/platform/config"
)

// New builds the service logger. LOG_FORMAT=console switches to the
// human-readable encoder used by the player simulator.
func New(level string, fields ...zap.Field) (*zap.Logger, error) {
	lvl := zapcore.InfoLevel
	if err := lvl.Set(strings.ToLower(strings.TrimSpace(level))); err != nil {
		lvl = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.Encoding = encoding()
	cfg.EncoderConfig.TimeKey = "ts"
	if cfg.Encoding == "console" {
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}

	log, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	if len(fields) > 0 {
		log = log.With(fields...)
	}
	return log, nil
}

func encoding() string {
	if strings.EqualFold(config.Env("LOG_FORMAT", ""), "console") {
		return "console"
	}
	return "json"
}
