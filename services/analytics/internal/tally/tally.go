// Package tally keeps per-video completion counters built from the
// progress events published by the progress service.
package tally

import (
	"sort"
	"sync"
	"time"
)

type VideoStats struct {
	VideoID string `json:"videoId"`
	// Completions counts every false-to-true transition, including repeats
	// after a reset.
	Completions int `json:"completions"`
	// Completers is the number of users currently holding a completion.
	Completers        int       `json:"completers"`
	Resets            int       `json:"resets"`
	AverageCompletion float64   `json:"averageCompletion"`
	LastCompletedAt   time.Time `json:"lastCompletedAt,omitempty"`
}

type video struct {
	completions int
	resets      int
	pctSum      float64
	completers  map[string]struct{}
	last        time.Time
}

// Memory is a concurrency-safe in-process tally.
type Memory struct {
	mu     sync.RWMutex
	videos map[string]*video
}

func NewMemory() *Memory {
	return &Memory{videos: make(map[string]*video)}
}

func (m *Memory) get(videoID string) *video {
	v, ok := m.videos[videoID]
	if !ok {
		v = &video{completers: make(map[string]struct{})}
		m.videos[videoID] = v
	}
	return v
}

func (m *Memory) Completed(videoID, userID string, percentage float64, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := m.get(videoID)
	v.completions++
	v.pctSum += percentage
	v.completers[userID] = struct{}{}
	if at.After(v.last) {
		v.last = at
	}
}

func (m *Memory) Reset(videoID, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := m.get(videoID)
	v.resets++
	delete(v.completers, userID)
}

func (m *Memory) Video(videoID string) (VideoStats, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.videos[videoID]
	if !ok {
		return VideoStats{VideoID: videoID}, false
	}
	return v.stats(videoID), true
}

// Top returns up to limit videos ordered by completions, then by id.
func (m *Memory) Top(limit int) []VideoStats {
	m.mu.RLock()
	out := make([]VideoStats, 0, len(m.videos))
	for id, v := range m.videos {
		out = append(out, v.stats(id))
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Completions != out[j].Completions {
			return out[i].Completions > out[j].Completions
		}
		return out[i].VideoID < out[j].VideoID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (v *video) stats(id string) VideoStats {
	st := VideoStats{
		VideoID:         id,
		Completions:     v.completions,
		Completers:      len(v.completers),
		Resets:          v.resets,
		LastCompletedAt: v.last,
	}
	if v.completions > 0 {
		st.AverageCompletion = v.pctSum / float64(v.completions)
	}
	return st
}
