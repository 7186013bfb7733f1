// Package domain holds the per-(user, video) progress aggregate.
package domain

import (
	"errors"
	"math"
	"strings"
	"time"

	"github.com/example/watch-progress/services/progress/internal/interval"
)

// CompletionThreshold is the percentage at which a video counts as completed.
const CompletionThreshold = 95.0

var (
	ErrInvalidDuration = errors.New("duration must be a positive number")
	ErrInvalidPosition = errors.New("position must be a non-negative number")
	ErrMissingKey      = errors.New("userId and videoId are required")
)

// Key identifies one progress record.
type Key struct {
	UserID  string
	VideoID string
}

func (k Key) String() string { return k.UserID + "/" + k.VideoID }

// Validate rejects blank identifiers.
func (k Key) Validate() error {
	if strings.TrimSpace(k.UserID) == "" || strings.TrimSpace(k.VideoID) == "" {
		return ErrMissingKey
	}
	return nil
}

// Progress is the watch state of one user for one video. Percentage and
// IsCompleted are derived from WatchedIntervals and Duration and are only
// written by recompute.
type Progress struct {
	UserID           string
	VideoID          string
	Duration         float64
	WatchedIntervals interval.Set
	LastPosition     float64
	Percentage       float64
	IsCompleted      bool
	CreatedAt        time.Time
	UpdatedAt        time.Time

	// Version is the optimistic-lock counter. Zero means never persisted.
	Version int64
}

// Observation is one reported playback sample.
type Observation struct {
	Position float64
	Duration float64
	Interval *interval.Interval
}

// Summary is the read projection returned to clients after an update.
type Summary struct {
	LastPosition float64   `json:"lastPosition"`
	Percentage   float64   `json:"percentage"`
	IsCompleted  bool      `json:"isCompleted"`
	WatchedTime  float64   `json:"watchedTime"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// New returns a zero-state aggregate for key.
func New(key Key, now time.Time) *Progress {
	now = now.UTC()
	return &Progress{
		UserID:           key.UserID,
		VideoID:          key.VideoID,
		WatchedIntervals: interval.Set{},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func (p *Progress) Key() Key { return Key{UserID: p.UserID, VideoID: p.VideoID} }

// ValidateObservation checks the scalar fields of obs. Interval problems are
// never errors.
func ValidateObservation(obs Observation) error {
	if math.IsNaN(obs.Duration) || math.IsInf(obs.Duration, 0) || obs.Duration <= 0 {
		return ErrInvalidDuration
	}
	if math.IsNaN(obs.Position) || math.IsInf(obs.Position, 0) || obs.Position < 0 {
		return ErrInvalidPosition
	}
	return nil
}

// RecordObservation applies obs. The latest duration wins, the interval is
// clamped into [0, duration] and merged, and derived fields are recomputed.
// An inverted interval is dropped without error so position and duration
// still update.
func (p *Progress) RecordObservation(obs Observation, now time.Time) error {
	if err := ValidateObservation(obs); err != nil {
		return err
	}

	p.Duration = obs.Duration
	p.LastPosition = obs.Position

	if obs.Interval != nil {
		if clamped, ok := interval.Clamp(*obs.Interval, p.Duration); ok {
			p.WatchedIntervals = interval.Merge(p.WatchedIntervals, clamped)
		}
	}

	p.recompute()
	p.UpdatedAt = now.UTC()
	return nil
}

// WatchedTime is the covered duration of the interval set.
func (p *Progress) WatchedTime() float64 {
	return interval.Covered(p.WatchedIntervals)
}

func (p *Progress) recompute() {
	p.Percentage = PercentageOf(p.WatchedTime(), p.Duration)
	p.IsCompleted = p.Percentage >= CompletionThreshold
}

// PercentageOf returns min(covered/duration*100, 100), or 0 for a
// non-positive duration.
func PercentageOf(covered, duration float64) float64 {
	if duration <= 0 {
		return 0
	}
	return math.Min(covered*100/duration, 100)
}

// ToSummary projects p without mutating it.
func (p *Progress) ToSummary() Summary {
	return Summary{
		LastPosition: p.LastPosition,
		Percentage:   Round2(p.Percentage),
		IsCompleted:  p.IsCompleted,
		WatchedTime:  p.WatchedTime(),
		UpdatedAt:    p.UpdatedAt,
	}
}

// WithDuration returns a copy whose derived fields are computed against
// duration. p is left untouched.
func (p *Progress) WithDuration(duration float64) *Progress {
	cp := p.Clone()
	if duration > 0 && !math.IsInf(duration, 0) {
		cp.Duration = duration
		cp.recompute()
	}
	return cp
}

// Clone returns a deep copy.
func (p *Progress) Clone() *Progress {
	cp := *p
	cp.WatchedIntervals = append(interval.Set{}, p.WatchedIntervals...)
	return &cp
}

// Round2 rounds to two decimals for presentation.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
