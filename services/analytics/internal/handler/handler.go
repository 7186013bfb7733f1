// Package handler routes analytics.progress.* messages into the tally.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/example/watch-progress/internal/platform/analytics"
)

// ErrMalformed marks a message that can never be processed.
var ErrMalformed = errors.New("malformed analytics event")

// Sink receives decoded progress events.
type Sink interface {
	Completed(videoID, userID string, percentage float64, at time.Time)
	Reset(videoID, userID string)
}

type Dispatcher struct {
	sink Sink
	log  *zap.Logger
}

func New(sink Sink, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{sink: sink, log: log}
}

// Dispatch applies one message. Unknown subjects are ignored so that new
// event types never block the stream.
func (d *Dispatcher) Dispatch(subject string, data []byte) error {
	switch subject {
	case analytics.SubjectProgressCompleted:
		return d.handleCompleted(data)
	case analytics.SubjectProgressReset:
		return d.handleReset(data)
	default:
		d.log.Debug("analytics: unhandled subject", zap.String("subject", subject))
		return nil
	}
}

func (d *Dispatcher) handleCompleted(data []byte) error {
	ev, videoID, err := decode(data)
	if err != nil {
		return err
	}
	pct, _ := ev.Properties["percentage"].(float64)
	d.sink.Completed(videoID, ev.UserID, pct, ev.OccurredAt)
	d.log.Debug("analytics: completion", zap.String("videoId", videoID), zap.String("userId", ev.UserID))
	return nil
}

func (d *Dispatcher) handleReset(data []byte) error {
	ev, videoID, err := decode(data)
	if err != nil {
		return err
	}
	d.sink.Reset(videoID, ev.UserID)
	return nil
}

func decode(data []byte) (analytics.Event, string, error) {
	var ev analytics.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return ev, "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	videoID, _ := ev.Properties["video_id"].(string)
	if videoID == "" || ev.UserID == "" {
		return ev, "", fmt.Errorf("%w: missing video_id or user_id", ErrMalformed)
	}
	return ev, videoID, nil
}
