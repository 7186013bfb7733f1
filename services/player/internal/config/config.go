package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	platformconfig "github.com/example/watch-progress/internal/platform/config"
)

const (
	ResumeAuto   = "auto"
	ResumePrompt = "prompt"
)

type Config struct {
	APIURL  string
	Token   string
	UserID  string
	VideoID string

	SampleThreshold time.Duration
	DebounceWindow  time.Duration
	ResumeMode      string

	FetchMaxRetries int
	FetchRetryDelay time.Duration
	RequestTimeout  time.Duration

	// CacheDir holds the per-video fallback snapshots. Empty keeps them in memory.
	CacheDir string

	CBFailureThreshold uint32
	CBTimeout          time.Duration
}

func Load() (Config, error) {
	cfg := Config{
		APIURL:             strings.TrimRight(platformconfig.Env("PROGRESS_API_URL", "http://localhost:8080"), "/"),
		Token:              strings.TrimSpace(os.Getenv("PLAYER_TOKEN")),
		UserID:             platformconfig.Env("PLAYER_USER_ID", ""),
		VideoID:            platformconfig.Env("PLAYER_VIDEO_ID", ""),
		SampleThreshold:    platformconfig.EnvDuration("SAMPLE_THRESHOLD", 5*time.Second),
		DebounceWindow:     platformconfig.EnvDuration("DEBOUNCE_WINDOW", 2*time.Second),
		ResumeMode:         strings.ToLower(platformconfig.Env("RESUME_MODE", ResumePrompt)),
		FetchMaxRetries:    platformconfig.EnvInt("FETCH_MAX_RETRIES", 3),
		FetchRetryDelay:    platformconfig.EnvDuration("FETCH_RETRY_DELAY", 5*time.Second),
		RequestTimeout:     platformconfig.EnvDuration("PLAYER_REQUEST_TIMEOUT", 10*time.Second),
		CacheDir:           platformconfig.Env("CACHE_DIR", ""),
		CBFailureThreshold: uint32(platformconfig.EnvInt("CB_FAILURE_THRESHOLD", 5)),
		CBTimeout:          platformconfig.EnvDuration("CB_TIMEOUT", 30*time.Second),
	}

	if cfg.VideoID == "" {
		return Config{}, fmt.Errorf("PLAYER_VIDEO_ID is required")
	}
	if cfg.UserID == "" && cfg.Token == "" {
		return Config{}, fmt.Errorf("PLAYER_USER_ID or PLAYER_TOKEN is required")
	}
	switch cfg.ResumeMode {
	case ResumeAuto, ResumePrompt:
	default:
		return Config{}, fmt.Errorf("unknown RESUME_MODE %q", cfg.ResumeMode)
	}
	if cfg.SampleThreshold < time.Second {
		return Config{}, fmt.Errorf("SAMPLE_THRESHOLD must be at least 1s")
	}
	if cfg.FetchMaxRetries < 0 {
		cfg.FetchMaxRetries = 0
	}
	return cfg, nil
}
