package interval

import (
	"encoding/json"
	"math"
	"math/rand"
	"reflect"
	"testing"
)

func TestMerge_IntoEmpty(t *testing.T) {
	got := Merge(nil, Interval{0, 10})
	want := Set{{0, 10}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if c := Covered(got); c != 10 {
		t.Fatalf("expected coverage 10, got %v", c)
	}
}

func TestMerge_Overlap(t *testing.T) {
	got := Merge(Set{{0, 10}}, Interval{8, 20})
	want := Set{{0, 20}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if c := Covered(got); c != 20 {
		t.Fatalf("expected coverage 20, got %v", c)
	}
}

func TestMerge_BridgesGapByTouch(t *testing.T) {
	got := Merge(Set{{0, 5}, {10, 15}}, Interval{5, 10})
	want := Set{{0, 15}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if c := Covered(got); c != 15 {
		t.Fatalf("expected coverage 15, got %v", c)
	}
}

func TestMerge_TouchingEndpoints(t *testing.T) {
	got := Merge(Set{{0, 5}}, Interval{5, 8})
	if !reflect.DeepEqual(got, Set{{0, 8}}) {
		t.Fatalf("expected [[0 8]], got %v", got)
	}
}

func TestMerge_DisjointKeepsOrder(t *testing.T) {
	got := Merge(Set{{10, 20}}, Interval{0, 5})
	want := Set{{0, 5}, {10, 20}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestMerge_ZeroLengthInsideExisting(t *testing.T) {
	got := Merge(Set{{0, 100}}, Interval{100, 100})
	if !reflect.DeepEqual(got, Set{{0, 100}}) {
		t.Fatalf("expected [[0 100]], got %v", got)
	}
}

func TestMerge_DoesNotMutateInput(t *testing.T) {
	in := Set{{0, 5}, {10, 15}}
	_ = Merge(in, Interval{3, 12})
	if !reflect.DeepEqual(in, Set{{0, 5}, {10, 15}}) {
		t.Fatalf("input mutated: %v", in)
	}
}

func randomInterval(r *rand.Rand) Interval {
	a := float64(r.Intn(600))
	b := float64(r.Intn(600))
	if a > b {
		a, b = b, a
	}
	return Interval{a, b}
}

func randomSet(r *rand.Rand) Set {
	var s Set
	for n := r.Intn(8); n > 0; n-- {
		s = Merge(s, randomInterval(r))
	}
	return s
}

func TestMerge_Properties(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for i := 0; i < 2000; i++ {
		s := randomSet(r)
		a := randomInterval(r)
		b := randomInterval(r)

		once := Merge(s, a)
		if !Valid(once) {
			t.Fatalf("invariant broken: merge(%v, %v) = %v", s, a, once)
		}
		if twice := Merge(once, a); !reflect.DeepEqual(once, twice) {
			t.Fatalf("not idempotent: %v then %v", once, twice)
		}
		if Covered(once) < Covered(s) {
			t.Fatalf("coverage decreased: %v -> %v", s, once)
		}
		ab := Merge(Merge(s, a), b)
		ba := Merge(Merge(s, b), a)
		if !reflect.DeepEqual(ab, ba) {
			t.Fatalf("order dependent: %v vs %v", ab, ba)
		}
	}
}

func TestClamp(t *testing.T) {
	got, ok := Clamp(Interval{-5, 150}, 100)
	if !ok || got != (Interval{0, 100}) {
		t.Fatalf("expected [0,100], got %v ok=%v", got, ok)
	}
	if _, ok := Clamp(Interval{15, 5}, 100); ok {
		t.Fatal("expected inverted interval to be rejected")
	}
	if _, ok := Clamp(Interval{math.NaN(), 5}, 100); ok {
		t.Fatal("expected NaN to be rejected")
	}
	// Both ends above duration collapse onto the end.
	got, ok = Clamp(Interval{120, 130}, 100)
	if !ok || got != (Interval{100, 100}) {
		t.Fatalf("expected [100,100], got %v ok=%v", got, ok)
	}
}

func TestNormalize(t *testing.T) {
	got := Normalize([]Interval{{10, 15}, {0, 5}, {4, 9}, {20, 18}})
	want := Set{{0, 9}, {10, 15}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestParse(t *testing.T) {
	if _, ok := Parse(nil); ok {
		t.Fatal("expected missing interval to be absent")
	}
	if _, ok := Parse(json.RawMessage(`null`)); ok {
		t.Fatal("expected null interval to be absent")
	}
	if _, ok := Parse(json.RawMessage(`[1,2,3]`)); ok {
		t.Fatal("expected 3-element interval to be rejected")
	}
	if _, ok := Parse(json.RawMessage(`["a",2]`)); ok {
		t.Fatal("expected non-numeric interval to be rejected")
	}
	in, ok := Parse(json.RawMessage(`[4.5, 9]`))
	if !ok || in != (Interval{4.5, 9}) {
		t.Fatalf("expected [4.5 9], got %v ok=%v", in, ok)
	}
}

func TestSetJSON(t *testing.T) {
	b, err := json.Marshal(Set{{0, 5}, {10, 12.5}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `[[0,5],[10,12.5]]` {
		t.Fatalf("unexpected json %s", b)
	}
	b, _ = json.Marshal(Set(nil))
	if string(b) != `[]` {
		t.Fatalf("expected [], got %s", b)
	}
}

func TestPairsRoundTrip(t *testing.T) {
	s := Set{{0, 5}, {7, 9}}
	if got := FromPairs(s.Pairs()); !reflect.DeepEqual(got, s) {
		t.Fatalf("expected %v, got %v", s, got)
	}
}
