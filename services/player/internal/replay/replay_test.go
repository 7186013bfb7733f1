package replay

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/example/watch-progress/services/player/internal/reporter"
)

type recordingSession struct {
	calls    []string
	duration float64
	resumeTo float64
}

func (r *recordingSession) SetDuration(d float64) error {
	if d <= 0 {
		return reporter.ErrInvalidDuration
	}
	r.duration = d
	r.calls = append(r.calls, "duration")
	return nil
}

func (r *recordingSession) Tick(_ context.Context, played float64) reporter.Action {
	r.calls = append(r.calls, "tick")
	if len(r.calls) == 2 && r.resumeTo > 0 {
		return reporter.Action{Seek: true, SeekTo: r.resumeTo}
	}
	return reporter.Action{}
}

func (r *recordingSession) Seek(from, to float64) { r.calls = append(r.calls, "seek") }
func (r *recordingSession) End()                   { r.calls = append(r.calls, "end") }

func TestRun_AppliesEventsInOrder(t *testing.T) {
	log := `# sample session
{"type":"duration","duration":120}
{"type":"tick","played":0.2}
{"type":"tick","played":5.1}

{"type":"seek","from":5,"to":60}
{"type":"pause","ms":1}
{"type":"end"}
`
	s := &recordingSession{resumeTo: 42}
	st, err := Run(context.Background(), strings.NewReader(log), s, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"duration", "tick", "tick", "seek", "end"}
	if strings.Join(s.calls, ",") != strings.Join(want, ",") {
		t.Fatalf("expected %v, got %v", want, s.calls)
	}
	if st.Events != 6 {
		t.Fatalf("expected 6 events, got %d", st.Events)
	}
	if len(st.Seeks) != 1 || st.Seeks[0].SeekTo != 42 {
		t.Fatalf("expected one resume seek to 42, got %+v", st.Seeks)
	}
}

func TestRun_SkipsBadLines(t *testing.T) {
	log := `{"type":"duration","duration":0}
not json
{"type":"rewind"}
{"type":"duration","duration":30}
`
	s := &recordingSession{}
	st, err := Run(context.Background(), strings.NewReader(log), s, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.Events != 1 || s.duration != 30 {
		t.Fatalf("expected only the valid duration applied, got events=%d duration=%v", st.Events, s.duration)
	}
}

func TestRun_PauseHonoursCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := &recordingSession{}
	st, err := Run(ctx, strings.NewReader(`{"type":"pause","ms":60000}`+"\n"+`{"type":"end"}`), s, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if st.Events != 0 || len(s.calls) != 0 {
		t.Fatalf("expected nothing applied, got %d events %v", st.Events, s.calls)
	}
}
