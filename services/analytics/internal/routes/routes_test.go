package routes

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/example/watch-progress/services/analytics/internal/tally"
)

func newRouter() (*chi.Mux, *tally.Memory) {
	m := tally.NewMemory()
	r := chi.NewRouter()
	Register(r, m)
	return r, m
}

func TestVideoStats(t *testing.T) {
	r, m := newRouter()
	m.Completed("v1", "u1", 96, time.Now())

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/analytics/videos/v1", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body struct {
		Stats tally.VideoStats `json:"stats"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Stats.VideoID != "v1" || body.Stats.Completions != 1 {
		t.Fatalf("unexpected stats: %+v", body.Stats)
	}
}

func TestVideoStats_UnknownIsZero(t *testing.T) {
	r, _ := newRouter()
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/analytics/videos/nope", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestTopVideos_Limit(t *testing.T) {
	r, m := newRouter()
	now := time.Now()
	for _, id := range []string{"a", "b", "c"} {
		m.Completed(id, "u1", 95, now)
	}

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/analytics/videos?limit=2", nil))
	var body struct {
		Videos []tally.VideoStats `json:"videos"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Videos) != 2 {
		t.Fatalf("expected 2 videos, got %d", len(body.Videos))
	}

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/analytics/videos?limit=-1", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}
