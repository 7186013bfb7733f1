// Package replay drives a reporter.Session from a JSON-lines log of player
// events, one object per line:
//
//	{"type":"duration","duration":596.5}
//	{"type":"tick","played":12.4}
//	{"type":"seek","from":40,"to":310}
//	{"type":"pause","ms":2500}
//	{"type":"end"}
package replay

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/watch-progress/services/player/internal/reporter"
)

const (
	EventDuration = "duration"
	EventTick     = "tick"
	EventSeek     = "seek"
	EventPause    = "pause"
	EventEnd      = "end"
)

type Event struct {
	Type     string  `json:"type"`
	Duration float64 `json:"duration,omitempty"`
	Played   float64 `json:"played,omitempty"`
	From     float64 `json:"from,omitempty"`
	To       float64 `json:"to,omitempty"`
	MS       int     `json:"ms,omitempty"`
}

// Session is the part of reporter.Session the replayer drives.
type Session interface {
	SetDuration(d float64) error
	Tick(ctx context.Context, playedSeconds float64) reporter.Action
	Seek(from, to float64)
	End()
}

var _ Session = (*reporter.Session)(nil)

type Stats struct {
	Events int
	Seeks  []reporter.Action
}

// Run applies every event from r in order. Malformed lines are skipped and
// logged. Run stops with ctx's error once ctx is cancelled.
func Run(ctx context.Context, r io.Reader, s Session, log *zap.Logger) (Stats, error) {
	if log == nil {
		log = zap.NewNop()
	}
	var st Stats
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(text), &ev); err != nil {
			log.Warn("skipping malformed event", zap.Int("line", line), zap.Error(err))
			continue
		}
		if err := apply(ctx, s, ev, &st); err != nil {
			log.Warn("event rejected", zap.Int("line", line), zap.String("type", ev.Type), zap.Error(err))
			continue
		}
		st.Events++
	}
	if err := sc.Err(); err != nil {
		return st, fmt.Errorf("read events: %w", err)
	}
	return st, nil
}

func apply(ctx context.Context, s Session, ev Event, st *Stats) error {
	switch ev.Type {
	case EventDuration:
		return s.SetDuration(ev.Duration)
	case EventTick:
		if act := s.Tick(ctx, ev.Played); act.Seek {
			st.Seeks = append(st.Seeks, act)
		}
	case EventSeek:
		s.Seek(ev.From, ev.To)
	case EventEnd:
		s.End()
	case EventPause:
		t := time.NewTimer(time.Duration(ev.MS) * time.Millisecond)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	default:
		return fmt.Errorf("unknown event type %q", ev.Type)
	}
	return nil
}
