package config

import (
	"time"

	platformconfig "github.com/example/watch-progress/internal/platform/config"
)

type Config struct {
	NATSURL   string
	BatchSize int
	MaxWait   time.Duration
}

func Load() Config {
	return Config{
		NATSURL:   platformconfig.Env("NATS_URL", "nats://nats:4222"),
		BatchSize: platformconfig.EnvInt("WORKER_BATCH_SIZE", 200),
		MaxWait:   platformconfig.EnvDuration("WORKER_MAX_WAIT", 2*time.Second),
	}
}
