package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// ArchiveConfig описывает S3-совместимое хранилище (Cloudflare R2 или AWS S3) для архива
// итоговых таблиц фаз. Архив выключен, если Bucket не задан.
type ArchiveConfig struct {
	AccountID       string `env:"ACCOUNT_ID"`
	Endpoint        string `env:"ENDPOINT"`
	Region          string `env:"REGION" envDefault:"auto"`
	AccessKeyID     string `env:"ACCESS_KEY_ID"`
	SecretAccessKey string `env:"SECRET_ACCESS_KEY"`
	Bucket          string `env:"BUCKET"`
	Prefix          string `env:"PREFIX" envDefault:"standings"`
	PublicBaseURL   string `env:"PUBLIC_BASE_URL"`
}

func (a ArchiveConfig) Enabled() bool {
	return a.Bucket != ""
}

// Config хранит все конфигурационные параметры приложения.
type Config struct {
	DatabaseURL  string `env:"DATABASE_URL"`
	StoreDriver  string `env:"STORE_DRIVER" envDefault:"postgres"`
	JWTSecretKey string `env:"JWT_SECRET_KEY,notEmpty"`
	ServerPort   int    `env:"SERVER_PORT" envDefault:"8080"`

	StalenessThreshold time.Duration `env:"STALENESS_THRESHOLD" envDefault:"5m"`
	SweepSchedule      string        `env:"SWEEP_SCHEDULE" envDefault:"@every 1m"`
	SweepConcurrency   int           `env:"SWEEP_CONCURRENCY" envDefault:"4"`
	KillWeight         int           `env:"SCORING_KILL_WEIGHT" envDefault:"1"`

	RedisAddr   string `env:"REDIS_ADDR"`
	EventStream string `env:"EVENT_STREAM" envDefault:"tournament:events"`

	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"*"`

	Archive ArchiveConfig `envPrefix:"ARCHIVE_"`
}

// Load загружает конфигурацию из переменных окружения.
// Опционально подгружает .env файл (полезно для локальной разработки).
func Load() (*Config, error) {
	// Ошибку не считаем фатальной: .env есть только локально.
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL environment variable is not set")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unsupported STORE_DRIVER %q", c.StoreDriver)
	}
	if c.ServerPort <= 0 || c.ServerPort > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.ServerPort)
	}
	if c.StalenessThreshold <= 0 {
		return fmt.Errorf("STALENESS_THRESHOLD must be positive, got %v", c.StalenessThreshold)
	}
	if c.KillWeight < 0 {
		return fmt.Errorf("SCORING_KILL_WEIGHT must not be negative, got %d", c.KillWeight)
	}
	if c.SweepConcurrency < 1 {
		c.SweepConcurrency = 1
	}
	return nil
}
