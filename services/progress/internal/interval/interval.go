// Package interval implements the watched-interval algebra: merging playback
// spans into a canonical sorted, non-overlapping set and measuring coverage.
package interval

import (
	"encoding/json"
	"errors"
	"math"
	"sort"
)

// Interval is a closed range [Start, End] in seconds.
type Interval struct {
	Start float64
	End   float64
}

// Set is sorted by Start and pairwise disjoint: for consecutive a, b it holds a.End < b.Start.
type Set []Interval

var errMalformed = errors.New("interval: expected [start, end]")

// MarshalJSON encodes the interval as a two-element array.
func (i Interval) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{i.Start, i.End})
}

// UnmarshalJSON accepts only a two-element numeric array.
func (i *Interval) UnmarshalJSON(b []byte) error {
	var raw []float64
	if err := json.Unmarshal(b, &raw); err != nil {
		return errMalformed
	}
	if len(raw) != 2 {
		return errMalformed
	}
	i.Start, i.End = raw[0], raw[1]
	return nil
}

// MarshalJSON keeps an empty set as [] instead of null.
func (s Set) MarshalJSON() ([]byte, error) {
	if s == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]Interval(s))
}

// Parse decodes an optional client-supplied interval. Anything other than a
// two-element array of finite numbers yields ok=false.
func Parse(raw json.RawMessage) (Interval, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return Interval{}, false
	}
	var in Interval
	if err := json.Unmarshal(raw, &in); err != nil {
		return Interval{}, false
	}
	if !finite(in.Start) || !finite(in.End) {
		return Interval{}, false
	}
	return in, true
}

// Clamp bounds both endpoints into [0, duration]. ok is false when the
// clamped interval is inverted or the input is not finite.
func Clamp(in Interval, duration float64) (Interval, bool) {
	if !finite(in.Start) || !finite(in.End) || !finite(duration) || duration < 0 {
		return Interval{}, false
	}
	out := Interval{Start: clamp(in.Start, 0, duration), End: clamp(in.End, 0, duration)}
	if out.Start > out.End {
		return Interval{}, false
	}
	return out, true
}

// Merge returns a new set with incoming folded into existing. Touching
// intervals merge: [0,5] and [5,8] become [0,8]. existing is not modified.
func Merge(existing Set, incoming Interval) Set {
	all := make([]Interval, 0, len(existing)+1)
	all = append(all, existing...)
	all = append(all, incoming)
	return sweep(all)
}

// Normalize sorts and merges an arbitrary list of intervals, dropping
// inverted or non-finite entries. Used for rows persisted before the set
// invariant was enforced.
func Normalize(in []Interval) Set {
	all := make([]Interval, 0, len(in))
	for _, iv := range in {
		if !finite(iv.Start) || !finite(iv.End) || iv.Start > iv.End {
			continue
		}
		all = append(all, iv)
	}
	return sweep(all)
}

func sweep(all []Interval) Set {
	if len(all) == 0 {
		return Set{}
	}
	sort.SliceStable(all, func(a, b int) bool { return all[a].Start < all[b].Start })

	out := make(Set, 0, len(all))
	cur := all[0]
	for _, next := range all[1:] {
		if next.Start <= cur.End {
			if next.End > cur.End {
				cur.End = next.End
			}
			continue
		}
		out = append(out, cur)
		cur = next
	}
	return append(out, cur)
}

// Covered is the total length of the set. Because members never overlap the
// sum counts each second at most once.
func Covered(s Set) float64 {
	var total float64
	for _, iv := range s {
		total += iv.End - iv.Start
	}
	return total
}

// Valid reports whether s satisfies the set invariant.
func Valid(s Set) bool {
	for i, iv := range s {
		if iv.Start > iv.End {
			return false
		}
		if i > 0 && s[i-1].End >= iv.Start {
			return false
		}
	}
	return true
}

// Pairs converts the set to the [[start,end],...] storage layout.
func (s Set) Pairs() [][2]float64 {
	out := make([][2]float64, len(s))
	for i, iv := range s {
		out[i] = [2]float64{iv.Start, iv.End}
	}
	return out
}

// FromPairs builds a normalized set from the storage layout.
func FromPairs(pairs [][2]float64) Set {
	in := make([]Interval, len(pairs))
	for i, p := range pairs {
		in[i] = Interval{Start: p[0], End: p[1]}
	}
	return Normalize(in)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(v, hi))
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
