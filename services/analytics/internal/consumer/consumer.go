// Package consumer manages the JetStream pull consumer for the analytics service.
package consumer

import (
	"context"
	"errors"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/example/watch-progress/services/analytics/internal/handler"
)

const (
	StreamName = "ANALYTICS"
	durable    = "analytics_progress"
	filter     = "analytics.progress.>"
)

type Dispatcher interface {
	Dispatch(subject string, data []byte) error
}

var _ Dispatcher = (*handler.Dispatcher)(nil)

type Consumer struct {
	js        nats.JetStreamContext
	d         Dispatcher
	batchSize int
	maxWait   time.Duration
	log       *zap.Logger
}

func New(js nats.JetStreamContext, d Dispatcher, batchSize int, maxWait time.Duration, log *zap.Logger) *Consumer {
	if batchSize <= 0 {
		batchSize = 200
	}
	if maxWait <= 0 {
		maxWait = 2 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Consumer{js: js, d: d, batchSize: batchSize, maxWait: maxWait, log: log}
}

// EnsureStream creates the ANALYTICS stream, which captures every
// analytics.> subject so the progress service can publish into it.
func EnsureStream(js nats.JetStreamContext, log *zap.Logger) error {
	cfg := &nats.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{"analytics.>"},
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
		MaxAge:    30 * 24 * time.Hour,
	}
	_, err := js.AddStream(cfg)
	if err == nil {
		log.Info("analytics: stream created", zap.String("stream", StreamName))
		return nil
	}
	if errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		if _, err := js.UpdateStream(cfg); err != nil {
			log.Warn("analytics: stream update failed", zap.Error(err))
		}
		return nil
	}
	return err
}

// Run processes messages until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	if err := EnsureStream(c.js, c.log); err != nil {
		return err
	}
	sub, err := c.js.PullSubscribe(filter, durable, nats.BindStream(StreamName))
	if err != nil {
		return err
	}
	defer func() { _ = sub.Unsubscribe() }()

	c.log.Info("analytics consumer started", zap.String("filter", filter))
	for {
		if ctx.Err() != nil {
			return nil
		}
		msgs, err := sub.Fetch(c.batchSize, nats.MaxWait(c.maxWait))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			c.log.Error("analytics consumer: fetch", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		for _, msg := range msgs {
			c.handle(msg)
		}
	}
}

func (c *Consumer) handle(msg *nats.Msg) {
	if err := c.d.Dispatch(msg.Subject, msg.Data); err != nil {
		c.log.Warn("analytics consumer: dropping message", zap.String("subject", msg.Subject), zap.Error(err))
		if err := msg.Term(); err != nil {
			c.log.Warn("analytics consumer: term", zap.Error(err))
		}
		return
	}
	if err := msg.Ack(); err != nil {
		c.log.Warn("analytics consumer: ack", zap.Error(err))
	}
}
