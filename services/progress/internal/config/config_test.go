package config

import (
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"STORE_DRIVER", "DATABASE_URL", "SQLITE_PATH", "REDIS_URL", "CACHE_TTL", "NATS_URL",
		"PROGRESS_CONSUMER_ENABLED", "JWT_SECRET", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "APP_ENV",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.StoreDriver != DriverMemory {
		t.Fatalf("expected memory driver, got %q", cfg.StoreDriver)
	}
	if cfg.CacheTTL != 5*time.Minute {
		t.Fatalf("expected 5m cache ttl, got %s", cfg.CacheTTL)
	}
	if cfg.RateLimitRPS != 0 || cfg.ConsumerEnabled {
		t.Fatalf("expected rate limit and consumer off, got %+v", cfg)
	}
}

func TestLoad_PostgresNeedsURL(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE_DRIVER", "postgres")
	if _, err := Load(); err == nil {
		t.Fatal("expected error without DATABASE_URL")
	}
}

func TestLoad_UnknownDriver(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE_DRIVER", "mongo")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestLoad_ProductionRejectsMemory(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_ENV", "production")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for memory store in production")
	}
}

func TestLoad_ConsumerNeedsNATS(t *testing.T) {
	clearEnv(t)
	t.Setenv("PROGRESS_CONSUMER_ENABLED", "true")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for consumer without NATS_URL")
	}
}
