package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	platformconfig "github.com/example/watch-progress/internal/platform/config"
)

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	// StoreDriver selects the Backend: memory, postgres or sqlite.
	StoreDriver string
	DatabaseURL string
	SQLitePath  string

	// RedisURL enables the read-through cache and redis idempotency.
	RedisURL string
	CacheTTL time.Duration

	NATSURL         string
	ConsumerEnabled bool
	IdempotencyTTL  time.Duration

	// JWTSecret enables bearer identities and the admin routes.
	JWTSecret string

	RateLimitRPS   float64
	RateLimitBurst int

	// Production rejects the in-memory fallbacks.
	Production bool
}

func Load() (Config, error) {
	cfg := Config{
		StoreDriver:     strings.ToLower(platformconfig.Env("STORE_DRIVER", DriverMemory)),
		DatabaseURL:     platformconfig.Env("DATABASE_URL", ""),
		SQLitePath:      platformconfig.Env("SQLITE_PATH", "progress.db"),
		RedisURL:        platformconfig.Env("REDIS_URL", ""),
		CacheTTL:        platformconfig.EnvDuration("CACHE_TTL", 5*time.Minute),
		NATSURL:         platformconfig.Env("NATS_URL", ""),
		ConsumerEnabled: platformconfig.EnvBool("PROGRESS_CONSUMER_ENABLED", false),
		IdempotencyTTL:  platformconfig.EnvDuration("IDEMPOTENCY_TTL", 24*time.Hour),
		JWTSecret:       strings.TrimSpace(os.Getenv("JWT_SECRET")),
		RateLimitRPS:    platformconfig.EnvFloat("RATE_LIMIT_RPS", 0),
		RateLimitBurst:  platformconfig.EnvInt("RATE_LIMIT_BURST", 20),
		Production:      strings.EqualFold(platformconfig.Env("APP_ENV", ""), "production"),
	}

	switch cfg.StoreDriver {
	case DriverMemory, DriverSQLite:
	case DriverPostgres:
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("STORE_DRIVER=postgres requires DATABASE_URL")
		}
	default:
		return Config{}, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
	if cfg.Production && cfg.StoreDriver == DriverMemory {
		return Config{}, fmt.Errorf("production requires STORE_DRIVER postgres or sqlite")
	}
	if cfg.ConsumerEnabled && cfg.NATSURL == "" {
		return Config{}, fmt.Errorf("PROGRESS_CONSUMER_ENABLED requires NATS_URL")
	}
	return cfg, nil
}
