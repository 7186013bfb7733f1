// Package worker applies progress observations delivered over NATS JetStream.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/example/watch-progress/internal/platform/idempotency"
	"github.com/example/watch-progress/services/progress/internal/domain"
	"github.com/example/watch-progress/services/progress/internal/interval"
)

const (
	SubjectObserved = "progress.observed"
	StreamName      = "PROGRESS"
	durableName     = "progress_observed"
)

// ObservationEvent is the POST /progress body plus an event id.
type ObservationEvent struct {
	EventID     string          `json:"event_id"`
	UserID      string          `json:"userId"`
	VideoID     string          `json:"videoId"`
	CurrentTime *float64        `json:"currentTime"`
	Duration    *float64        `json:"duration"`
	Interval    json.RawMessage `json:"interval,omitempty"`
}

var errPoison = errors.New("undeliverable observation")

// Recorder is the tracker operation the consumer needs.
type Recorder interface {
	Record(ctx context.Context, key domain.Key, obs domain.Observation) (*domain.Progress, error)
}

type outcome int

const (
	outcomeAck outcome = iota
	outcomeNak
	outcomeTerm
)

type ObservationConsumer struct {
	js        nats.JetStreamContext
	rec       Recorder
	seen      idempotency.Store
	log       *zap.Logger
	batchSize int
	maxWait   time.Duration
}

type ConsumerOptions struct {
	BatchSize int
	MaxWait   time.Duration
}

func NewObservationConsumer(js nats.JetStreamContext, rec Recorder, seen idempotency.Store, log *zap.Logger, opts ConsumerOptions) *ObservationConsumer {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.MaxWait <= 0 {
		opts.MaxWait = 2 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &ObservationConsumer{
		js:        js,
		rec:       rec,
		seen:      seen,
		log:       log,
		batchSize: opts.BatchSize,
		maxWait:   opts.MaxWait,
	}
}

// Run pulls batches until ctx is cancelled.
func (c *ObservationConsumer) Run(ctx context.Context) error {
	if err := ensureStream(c.js); err != nil {
		return err
	}
	sub, err := c.js.PullSubscribe(SubjectObserved, durableName)
	if err != nil {
		return err
	}
	defer func() { _ = sub.Unsubscribe() }()

	c.log.Info("observation consumer started", zap.String("subject", SubjectObserved))
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		msgs, err := sub.Fetch(c.batchSize, nats.MaxWait(c.maxWait))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			c.log.Warn("observation consumer: fetch error", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		for _, m := range msgs {
			c.settle(m, c.process(ctx, m.Data))
		}
	}
}

// ensureStream creates the PROGRESS stream when it does not exist yet.
func ensureStream(js nats.JetStreamContext) error {
	_, err := js.StreamInfo(StreamName)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return err
	}
	_, err = js.AddStream(&nats.StreamConfig{
		Name:     StreamName,
		Subjects: []string{"progress.>"},
		MaxAge:   7 * 24 * time.Hour,
	})
	return err
}

func (c *ObservationConsumer) settle(m *nats.Msg, o outcome) {
	var err error
	switch o {
	case outcomeAck:
		err = m.Ack()
	case outcomeNak:
		err = m.Nak()
	case outcomeTerm:
		err = m.Term()
	}
	if err != nil {
		c.log.Warn("observation consumer: settle failed", zap.Error(err))
	}
}

// process applies one message. Duplicates and undeliverable payloads are
// acknowledged or terminated; transient failures are released and retried.
func (c *ObservationConsumer) process(ctx context.Context, data []byte) outcome {
	ev, key, obs, err := DecodeObservation(data)
	if err != nil {
		c.log.Warn("observation consumer: dropping message", zap.Error(err))
		return outcomeTerm
	}

	dup, err := c.seen.Seen(ctx, SubjectObserved, ev.EventID)
	if err != nil {
		c.log.Warn("observation consumer: idempotency check failed", zap.String("event_id", ev.EventID), zap.Error(err))
		return outcomeNak
	}
	if dup {
		return outcomeAck
	}

	if _, err := c.rec.Record(ctx, key, obs); err != nil {
		if isValidation(err) {
			c.log.Warn("observation consumer: invalid observation",
				zap.String("event_id", ev.EventID), zap.Error(err))
			return outcomeTerm
		}
		c.log.Warn("observation consumer: apply failed",
			zap.String("event_id", ev.EventID), zap.Error(err))
		if rerr := c.seen.Release(ctx, SubjectObserved, ev.EventID); rerr != nil {
			c.log.Error("observation consumer: release failed", zap.String("event_id", ev.EventID), zap.Error(rerr))
		}
		return outcomeNak
	}
	return outcomeAck
}

// DecodeObservation parses and validates the envelope. Missing identifiers or
// scalars make the message undeliverable.
func DecodeObservation(data []byte) (ObservationEvent, domain.Key, domain.Observation, error) {
	var ev ObservationEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return ev, domain.Key{}, domain.Observation{}, errors.Join(errPoison, err)
	}
	if strings.TrimSpace(ev.EventID) == "" {
		return ev, domain.Key{}, domain.Observation{}, errors.Join(errPoison, idempotency.ErrEmptyID)
	}
	key := domain.Key{UserID: strings.TrimSpace(ev.UserID), VideoID: strings.TrimSpace(ev.VideoID)}
	if err := key.Validate(); err != nil {
		return ev, key, domain.Observation{}, errors.Join(errPoison, err)
	}
	if ev.CurrentTime == nil || ev.Duration == nil {
		return ev, key, domain.Observation{}, errors.Join(errPoison, errors.New("currentTime and duration are required"))
	}
	obs := domain.Observation{Position: *ev.CurrentTime, Duration: *ev.Duration}
	if in, ok := interval.Parse(ev.Interval); ok {
		obs.Interval = &in
	}
	return ev, key, obs, nil
}

func isValidation(err error) bool {
	return errors.Is(err, domain.ErrInvalidDuration) ||
		errors.Is(err, domain.ErrInvalidPosition) ||
		errors.Is(err, domain.ErrMissingKey)
}
