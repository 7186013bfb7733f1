// Package natsconn opens the shared NATS connection used by the progress
// publisher, the observation consumer and the analytics consumer.
package natsconn

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/example/watch-progress/internal/platform/config"
)

// Options configures the connection. Zero values fall back to NATS_URL,
// NATS_MAX_RECONNECTS and NATS_RECONNECT_WAIT.
type Options struct {
	URL           string
	Name          string
	MaxReconnects int
	ReconnectWait time.Duration
	Logger        *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.URL == "" {
		o.URL = config.Env("NATS_URL", "nats://nats:4222")
	}
	if o.MaxReconnects == 0 {
		o.MaxReconnects = nonNegative(config.EnvInt("NATS_MAX_RECONNECTS", 5), 5)
	}
	if o.ReconnectWait <= 0 {
		o.ReconnectWait = config.EnvDuration("NATS_RECONNECT_WAIT", 2*time.Second)
		if o.ReconnectWait <= 0 {
			o.ReconnectWait = 2 * time.Second
		}
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Connect dials once and fails fast; reconnects apply only after the first
// successful connection.
func Connect(opts Options) (*nats.Conn, error) {
	opts = opts.withDefaults()
	log := opts.Logger

	natsOpts := []nats.Option{
		nats.MaxReconnects(opts.MaxReconnects),
		nats.ReconnectWait(opts.ReconnectWait),
		nats.RetryOnFailedConnect(false),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			log.Debug("nats connection closed")
		}),
	}
	if opts.Name != "" {
		natsOpts = append(natsOpts, nats.Name(opts.Name))
	}

	nc, err := nats.Connect(opts.URL, natsOpts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s (max_reconnects=%d, wait=%s): %w",
			opts.URL, opts.MaxReconnects, opts.ReconnectWait, err)
	}
	return nc, nil
}

func nonNegative(v, fallback int) int {
	if v < 0 {
		return fallback
	}
	return v
}
