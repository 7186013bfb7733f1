package reporter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

var (
	// ErrTransient covers network failures, 429 and 5xx. Callers may retry.
	ErrTransient = errors.New("progress api: transient failure")
	// ErrRejected covers every other non-2xx answer. Retrying will not help.
	ErrRejected = errors.New("progress api: request rejected")
)

// Report is the body of POST /progress.
type Report struct {
	UserID      string      `json:"userId,omitempty"`
	VideoID     string      `json:"videoId"`
	CurrentTime float64     `json:"currentTime"`
	Duration    float64     `json:"duration"`
	Interval    *[2]float64 `json:"interval,omitempty"`
}

// Summary is what POST /progress answers with.
type Summary struct {
	Percentage   float64   `json:"percentage"`
	LastPosition float64   `json:"lastPosition"`
	IsCompleted  bool      `json:"isCompleted"`
	WatchedTime  float64   `json:"watchedTime"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Snapshot is the detail view from GET /progress/{videoId}. It is also the
// shape kept in the local cache.
type Snapshot struct {
	LastPosition     float64      `json:"lastPosition"`
	Percentage       float64      `json:"percentage"`
	WatchedIntervals [][2]float64 `json:"watchedIntervals"`
	IsCompleted      bool         `json:"isCompleted"`
	WatchedTime      float64      `json:"watchedTime"`
	Duration         float64      `json:"duration"`
	UpdatedAt        time.Time    `json:"updatedAt,omitempty"`
}

type ClientConfig struct {
	Token      string
	MaxRetries int
	RetryDelay time.Duration
}

type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Config     ClientConfig
	CB         *gobreaker.CircuitBreaker
	Log        *zap.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

type Option func(*Client)

func WithCircuitBreaker(cb *gobreaker.CircuitBreaker) Option {
	return func(c *Client) { c.CB = cb }
}

func WithLogger(log *zap.Logger) Option {
	return func(c *Client) { c.Log = log }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.HTTPClient = hc }
}

func NewClient(baseURL string, cfg ClientConfig, opts ...Option) *Client {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	c := &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		Config:     cfg,
		Log:        zap.NewNop(),
		sleep:      sleepCtx,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// NewBreaker trips after threshold consecutive transient failures. Rejected
// requests do not count against it.
func NewBreaker(name string, threshold uint32, timeout time.Duration, log *zap.Logger) *gobreaker.CircuitBreaker {
	if threshold == 0 {
		threshold = 5
	}
	if log == nil {
		log = zap.NewNop()
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrRejected)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Info("circuit-breaker state change", zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
}

// Report sends one observation. It is attempted once; the next sample
// supersedes a failed one.
func (c *Client) Report(ctx context.Context, r Report) (*Summary, error) {
	body, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return doWithBreaker[Summary](ctx, c, http.MethodPost, c.BaseURL+"/progress", body)
}

// Fetch loads the stored progress for videoID, retrying transient failures
// with a fixed delay.
func (c *Client) Fetch(ctx context.Context, userID, videoID string, duration float64) (*Snapshot, error) {
	q := url.Values{}
	if userID != "" {
		q.Set("userId", userID)
	}
	if duration > 0 {
		q.Set("duration", strconv.FormatFloat(duration, 'f', -1, 64))
	}
	u := c.BaseURL + "/progress/" + url.PathEscape(videoID)
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	var lastErr error
	for attempt := 0; attempt <= c.Config.MaxRetries; attempt++ {
		if attempt > 0 {
			c.Log.Debug("retrying progress fetch", zap.String("videoId", videoID), zap.Int("attempt", attempt), zap.Duration("delay", c.Config.RetryDelay))
			if err := c.sleep(ctx, c.Config.RetryDelay); err != nil {
				return nil, err
			}
		}
		snap, err := doWithBreaker[Snapshot](ctx, c, http.MethodGet, u, nil)
		if err == nil {
			return snap, nil
		}
		lastErr = err
		if !errors.Is(err, ErrTransient) {
			return nil, err
		}
		c.Log.Warn("progress fetch failed", zap.String("videoId", videoID), zap.Int("attempt", attempt), zap.Error(err))
	}
	return nil, lastErr
}

func doWithBreaker[T any](ctx context.Context, c *Client, method, u string, body []byte) (*T, error) {
	if c.CB == nil {
		return doJSON[T](ctx, c, method, u, body)
	}
	result, err := c.CB.Execute(func() (interface{}, error) {
		return doJSON[T](ctx, c, method, u, body)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", ErrTransient, err)
		}
		return nil, err
	}
	return result.(*T), nil
}

func doJSON[T any](ctx context.Context, c *Client, method, u string, body []byte) (*T, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Config.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrTransient, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusError(resp.StatusCode, b)
	}

	var out T
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrRejected, err)
	}
	return &out, nil
}

type apiErrorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func statusError(status int, body []byte) error {
	msg := http.StatusText(status)
	var eb apiErrorBody
	if json.Unmarshal(body, &eb) == nil && eb.Error.Message != "" {
		msg = eb.Error.Code + ": " + eb.Error.Message
	}
	if status == http.StatusTooManyRequests || status >= 500 {
		return fmt.Errorf("%w: status %d: %s", ErrTransient, status, msg)
	}
	return fmt.Errorf("%w: status %d: %s", ErrRejected, status, msg)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
