package reporter

import "math"

// Span is a watched range in whole seconds.
type Span struct {
	Start float64
	End   float64
}

func (s Span) pair() *[2]float64 {
	return &[2]float64{s.Start, s.End}
}

func spanOf(a, b float64) Span {
	return Span{Start: math.Min(a, b), End: math.Max(a, b)}
}

// Sampler turns sub-second playback ticks into spans once the playhead has
// moved at least threshold whole seconds from the last reported second.
type Sampler struct {
	threshold int
	lastSaved int
}

func NewSampler(thresholdSeconds int) *Sampler {
	if thresholdSeconds < 1 {
		thresholdSeconds = 1
	}
	return &Sampler{threshold: thresholdSeconds}
}

func (s *Sampler) Tick(playedSeconds float64) (current int, span Span, emit bool) {
	current = int(math.Floor(playedSeconds))
	diff := current - s.lastSaved
	if diff < 0 {
		diff = -diff
	}
	if diff < s.threshold || current <= 0 {
		return current, Span{}, false
	}
	span = spanOf(float64(s.lastSaved), float64(current))
	s.lastSaved = current
	return current, span, true
}

func (s *Sampler) Reset(second int) {
	if second < 0 {
		second = 0
	}
	s.lastSaved = second
}

func (s *Sampler) LastSaved() int { return s.lastSaved }
