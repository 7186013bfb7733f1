package reporter

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ResumeThreshold is the stored position, in seconds, above which a session
// offers to resume.
const ResumeThreshold = 10

const (
	ResumeAuto   = "auto"
	ResumePrompt = "prompt"
)

var ErrInvalidDuration = errors.New("duration must be a positive number")

type State int

const (
	StateLoading State = iota
	StateReady
	StateResumePending
	StatePlaying
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateResumePending:
		return "resume_pending"
	case StatePlaying:
		return "playing"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// API is the part of Client a Session talks to.
type API interface {
	Report(ctx context.Context, r Report) (*Summary, error)
	Fetch(ctx context.Context, userID, videoID string, duration float64) (*Snapshot, error)
}

var _ API = (*Client)(nil)

// Prompter asks the viewer whether to resume from lastPosition.
type Prompter interface {
	AskResume(ctx context.Context, lastPosition float64) (bool, error)
}

// Action tells the player what to do after a tick.
type Action struct {
	Seek   bool
	SeekTo float64
}

// View is what a player UI renders.
type View struct {
	State          State
	WatchedSeconds int
	Percentage     float64
	Completed      bool
	LastSaved      int
	ResumePoint    float64
	Err            error
}

type SessionConfig struct {
	UserID          string
	VideoID         string
	SampleThreshold time.Duration
	DebounceWindow  time.Duration
	ResumeMode      string
	ReportTimeout   time.Duration
}

type SessionOption func(*Session)

func WithPrompter(p Prompter) SessionOption {
	return func(s *Session) { s.prompter = p }
}

func WithCache(c LocalCache) SessionOption {
	return func(s *Session) { s.cache = c }
}

func WithSessionLogger(log *zap.Logger) SessionOption {
	return func(s *Session) { s.log = log }
}

// OnCompleted registers fn to run once per session, the first time the
// server reports the video as completed.
func OnCompleted(fn func(Summary)) SessionOption {
	return func(s *Session) { s.onComplete = fn }
}

type pendingReport struct {
	currentTime float64
	span        Span
}

// Session is the reporting policy for one playback of one video.
type Session struct {
	cfg        SessionConfig
	api        API
	cache      LocalCache
	prompter   Prompter
	log        *zap.Logger
	onComplete func(Summary)
	debounce   *Debouncer[pendingReport]

	mu        sync.Mutex
	state     State
	starting  bool
	duration  float64
	sampler   *Sampler
	watched   map[int]struct{}
	serverPct float64
	completed bool
	notified  bool
	resumed   bool
	saved     Snapshot
	lastErr   error
}

func NewSession(api API, cfg SessionConfig, opts ...SessionOption) *Session {
	if cfg.SampleThreshold <= 0 {
		cfg.SampleThreshold = 5 * time.Second
	}
	if cfg.DebounceWindow <= 0 {
		cfg.DebounceWindow = 2 * time.Second
	}
	if cfg.ResumeMode == "" {
		cfg.ResumeMode = ResumePrompt
	}
	if cfg.ReportTimeout <= 0 {
		cfg.ReportTimeout = 10 * time.Second
	}
	s := &Session{
		cfg:     cfg,
		api:     api,
		cache:   NewMemoryCache(),
		log:     zap.NewNop(),
		sampler: NewSampler(int(cfg.SampleThreshold / time.Second)),
		watched: make(map[int]struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With(zap.String("videoId", cfg.VideoID))
	s.debounce = NewDebouncer(cfg.DebounceWindow, s.dispatch)
	return s
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetDuration moves a loading session to Ready once the player knows the
// video length.
func (s *Session) SetDuration(d float64) error {
	if math.IsNaN(d) || math.IsInf(d, 0) || d <= 0 {
		return ErrInvalidDuration
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.duration = d
	if s.state == StateLoading {
		s.state = StateReady
	}
	return nil
}

// Tick handles a periodic playback-time callback. The first tick after the
// duration is known loads stored progress and resolves the resume choice.
func (s *Session) Tick(ctx context.Context, playedSeconds float64) Action {
	s.mu.Lock()
	switch {
	case s.state == StateLoading || s.starting:
		s.mu.Unlock()
		return Action{}
	case s.state == StateReady:
		s.starting = true
		s.mu.Unlock()
		return s.start(ctx)
	case s.state == StateEnded:
		if playedSeconds >= math.Floor(s.duration) {
			s.mu.Unlock()
			return Action{}
		}
		s.state = StatePlaying
	}
	defer s.mu.Unlock()

	current, span, emit := s.sampler.Tick(playedSeconds)
	if current >= 0 && float64(current) <= s.duration {
		s.watched[current] = struct{}{}
	}
	if emit {
		s.debounce.Trigger(pendingReport{currentTime: float64(current), span: span})
	}
	return Action{}
}

func (s *Session) start(ctx context.Context) Action {
	snap := s.load(ctx)

	s.mu.Lock()
	offer := snap.LastPosition > ResumeThreshold && !s.resumed
	if offer {
		s.state = StateResumePending
	}
	s.mu.Unlock()

	act := Action{}
	if offer {
		resume := s.decideResume(ctx, snap.LastPosition)
		if resume {
			act = Action{Seek: true, SeekTo: snap.LastPosition}
		} else {
			act = Action{Seek: true, SeekTo: 0}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.resumed = true
	s.starting = false
	s.state = StatePlaying
	if act.Seek {
		s.sampler.Reset(int(math.Floor(act.SeekTo)))
	}
	return act
}

func (s *Session) decideResume(ctx context.Context, pos float64) bool {
	if s.cfg.ResumeMode == ResumeAuto {
		s.log.Info("resuming playback", zap.Float64("position", pos))
		return true
	}
	if s.prompter == nil {
		return false
	}
	ok, err := s.prompter.AskResume(ctx, pos)
	if err != nil {
		s.log.Warn("resume prompt failed, starting over", zap.Error(err))
		return false
	}
	return ok
}

// load fetches stored progress, falling back to the local cache and then to
// zero state. It never fails; the fetch error is kept for View.
func (s *Session) load(ctx context.Context) Snapshot {
	s.mu.Lock()
	userID, videoID, dur := s.cfg.UserID, s.cfg.VideoID, s.duration
	s.mu.Unlock()

	snap, err := s.api.Fetch(ctx, userID, videoID, dur)
	if err == nil {
		if cerr := s.cache.Save(videoID, userID, *snap); cerr != nil {
			s.log.Warn("local cache save failed", zap.Error(cerr))
		}
		s.adopt(*snap, nil)
		return *snap
	}

	s.log.Warn("progress fetch failed", zap.Error(err))
	cached, ok, cerr := s.cache.Load(videoID, userID)
	if cerr != nil {
		s.log.Warn("local cache load failed", zap.Error(cerr))
	}
	if !ok {
		cached = Snapshot{WatchedIntervals: [][2]float64{}}
	} else {
		s.log.Info("using cached progress", zap.Float64("lastPosition", cached.LastPosition))
	}
	s.adopt(cached, err)
	return cached
}

func (s *Session) adopt(snap Snapshot, fetchErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = snap
	s.serverPct = snap.Percentage
	s.completed = snap.IsCompleted
	s.notified = snap.IsCompleted
	s.lastErr = fetchErr
	for _, iv := range snap.WatchedIntervals {
		end := math.Floor(iv[1])
		if s.duration > 0 {
			end = math.Min(end, math.Floor(s.duration))
		}
		for sec := int(math.Max(math.Floor(iv[0]), 0)); sec <= int(end); sec++ {
			s.watched[sec] = struct{}{}
		}
	}
}

// Seek reports the span between from and to. Seeks shorter than one second
// are noise and ignored.
func (s *Session) Seek(from, to float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StatePlaying && s.state != StateEnded {
		return
	}
	if math.Abs(to-from) < 1 {
		return
	}
	s.state = StatePlaying
	s.sampler.Reset(int(math.Floor(to)))
	s.debounce.Trigger(pendingReport{currentTime: to, span: spanOf(from, to)})
}

// End reports a zero-length span at the last second so the server
// recomputes completion.
func (s *Session) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StatePlaying {
		return
	}
	s.state = StateEnded
	end := math.Floor(s.duration)
	s.watched[int(end)] = struct{}{}
	s.debounce.Trigger(pendingReport{currentTime: end, span: Span{Start: end, End: end}})
}

// Flush sends a pending report immediately.
func (s *Session) Flush() bool {
	return s.debounce.Flush()
}

// Close flushes the pending report and stops the debouncer.
func (s *Session) Close() {
	s.debounce.Flush()
	s.debounce.Stop()
}

// dispatch reads the session state at send time, so a report built from an
// old tick still carries the current duration and identity.
func (s *Session) dispatch(p pendingReport) {
	s.mu.Lock()
	dur := s.duration
	r := Report{
		UserID:      s.cfg.UserID,
		VideoID:     s.cfg.VideoID,
		CurrentTime: p.currentTime,
		Duration:    dur,
		Interval:    p.span.pair(),
	}
	s.mu.Unlock()

	if dur <= 0 || p.currentTime < 0 || r.VideoID == "" {
		s.log.Warn("skipping invalid progress report", zap.Float64("currentTime", p.currentTime), zap.Float64("duration", dur))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ReportTimeout)
	defer cancel()
	sum, err := s.api.Report(ctx, r)
	if err != nil {
		s.reportFailed(r, err)
		return
	}
	s.reportSucceeded(r, *sum)
}

func (s *Session) reportSucceeded(r Report, sum Summary) {
	s.mu.Lock()
	s.lastErr = nil
	s.serverPct = sum.Percentage
	notify := sum.IsCompleted && !s.notified
	if sum.IsCompleted {
		s.completed = true
		s.notified = true
	}
	s.saved.LastPosition = sum.LastPosition
	s.saved.Percentage = sum.Percentage
	s.saved.IsCompleted = sum.IsCompleted
	s.saved.WatchedTime = sum.WatchedTime
	s.saved.Duration = r.Duration
	s.saved.UpdatedAt = sum.UpdatedAt
	s.saved.WatchedIntervals = append(s.saved.WatchedIntervals, *r.Interval)
	snap := s.saved
	s.mu.Unlock()

	if err := s.cache.Save(r.VideoID, r.UserID, snap); err != nil {
		s.log.Warn("local cache save failed", zap.Error(err))
	}
	if notify {
		s.log.Info("video completed", zap.Float64("percentage", sum.Percentage))
		if s.onComplete != nil {
			s.onComplete(sum)
		}
	}
}

func (s *Session) reportFailed(r Report, err error) {
	s.log.Warn("progress report failed", zap.Float64("currentTime", r.CurrentTime), zap.Error(err))

	s.mu.Lock()
	s.lastErr = err
	s.saved.LastPosition = r.CurrentTime
	s.saved.Percentage = s.percentLocked()
	s.saved.IsCompleted = s.completed
	s.saved.Duration = r.Duration
	s.saved.WatchedIntervals = append(s.saved.WatchedIntervals, *r.Interval)
	snap := s.saved
	s.mu.Unlock()

	if cerr := s.cache.Save(r.VideoID, r.UserID, snap); cerr != nil {
		s.log.Warn("local cache save failed", zap.Error(cerr))
		return
	}
	s.log.Info("progress kept in local cache", zap.Float64("lastPosition", r.CurrentTime))
}

// percentLocked prefers the server percentage and falls back to the share of
// whole seconds seen locally.
func (s *Session) percentLocked() float64 {
	if s.serverPct > 0 {
		return s.serverPct
	}
	if s.duration <= 0 {
		return 0
	}
	return math.Min(float64(len(s.watched))*100/s.duration, 100)
}

func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return View{
		State:          s.state,
		WatchedSeconds: len(s.watched),
		Percentage:     s.percentLocked(),
		Completed:      s.completed,
		LastSaved:      s.sampler.LastSaved(),
		ResumePoint:    s.saved.LastPosition,
		Err:            s.lastErr,
	}
}
