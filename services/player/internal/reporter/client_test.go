package reporter

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
)

func noSleep(c *Client) *Client {
	c.sleep = func(context.Context, time.Duration) error { return nil }
	return c
}

func TestClient_Report(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/progress" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("expected bearer token, got %q", got)
		}
		var body Report
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		if body.VideoID != "v1" || body.Interval == nil || body.Interval[1] != 10 {
			t.Errorf("unexpected body: %+v", body)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"percentage":10,"lastPosition":10,"isCompleted":false,"watchedTime":10}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", ClientConfig{Token: "tok"})
	sum, err := c.Report(context.Background(), Report{UserID: "u1", VideoID: "v1", CurrentTime: 10, Duration: 100, Interval: &[2]float64{0, 10}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sum.Percentage != 10 || sum.WatchedTime != 10 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
}

func TestClient_ReportRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":"INVALID_DURATION","message":"duration must be positive"}}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, ClientConfig{}).Report(context.Background(), Report{VideoID: "v1"})
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
	if !strings.Contains(err.Error(), "INVALID_DURATION") {
		t.Fatalf("expected api code in error, got %v", err)
	}
}

func TestClient_FetchRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/progress/v1" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if r.URL.Query().Get("userId") != "u1" || r.URL.Query().Get("duration") != "120.5" {
			t.Errorf("unexpected query %q", r.URL.RawQuery)
		}
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"lastPosition":42,"percentage":30,"watchedIntervals":[[0,36]],"isCompleted":false,"watchedTime":36,"duration":120.5}`))
	}))
	defer srv.Close()

	var delays []time.Duration
	c := NewClient(srv.URL, ClientConfig{MaxRetries: 3, RetryDelay: 5 * time.Second})
	c.sleep = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}

	snap, err := c.Fetch(context.Background(), "u1", "v1", 120.5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.LastPosition != 42 || len(snap.WatchedIntervals) != 1 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 calls, got %d", calls.Load())
	}
	if len(delays) != 2 || delays[0] != 5*time.Second || delays[1] != 5*time.Second {
		t.Fatalf("expected two fixed 5s delays, got %v", delays)
	}
}

func TestClient_FetchGivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := noSleep(NewClient(srv.URL, ClientConfig{MaxRetries: 3}))
	_, err := c.Fetch(context.Background(), "u1", "v1", 100)
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("expected ErrTransient, got %v", err)
	}
	if calls.Load() != 4 {
		t.Fatalf("expected 4 calls, got %d", calls.Load())
	}
}

func TestClient_FetchDoesNotRetryRejected(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := noSleep(NewClient(srv.URL, ClientConfig{MaxRetries: 3}))
	if _, err := c.Fetch(context.Background(), "u1", "v1", 100); !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected 1 call, got %d", calls.Load())
	}
}

func TestClient_NetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := NewClient(url, ClientConfig{}).Report(context.Background(), Report{VideoID: "v1"})
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("expected ErrTransient, got %v", err)
	}
}

func TestClient_BreakerOpensOnServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	cb := NewBreaker("progress-test", 2, time.Minute, nil)
	c := NewClient(srv.URL, ClientConfig{}, WithCircuitBreaker(cb))
	for i := 0; i < 2; i++ {
		if _, err := c.Report(context.Background(), Report{VideoID: "v1"}); !errors.Is(err, ErrTransient) {
			t.Fatalf("expected ErrTransient, got %v", err)
		}
	}
	if cb.State() != gobreaker.StateOpen {
		t.Fatalf("expected open breaker, got %s", cb.State())
	}
	_, err := c.Report(context.Background(), Report{VideoID: "v1"})
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("expected ErrTransient from open breaker, got %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected open breaker to skip the server, got %d calls", calls.Load())
	}
}

func TestClient_RejectedDoesNotTripBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	cb := NewBreaker("progress-test", 2, time.Minute, nil)
	c := NewClient(srv.URL, ClientConfig{}, WithCircuitBreaker(cb))
	for i := 0; i < 5; i++ {
		_, _ = c.Report(context.Background(), Report{VideoID: "v1"})
	}
	if cb.State() != gobreaker.StateClosed {
		t.Fatalf("expected closed breaker, got %s", cb.State())
	}
}
