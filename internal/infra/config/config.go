package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Dispatch modes for scheduled passes.
const (
	DispatchImmediate = "immediate"
	DispatchDeferred  = "deferred"
)

// StarsConfig points at the authorisation registry.
type StarsConfig struct {
	URI       string        `env:"STARS_URI,notEmpty"`
	APIKey    string        `env:"STARS_API_KEY,notEmpty"`
	OrgUnitID string        `env:"STARS_ORG_UNIT_ID,notEmpty"`
	Timeout   time.Duration `env:"STARS_TIMEOUT" envDefault:"30s"`
}

type StoreConfig struct {
	Driver      string `env:"STORE_DRIVER" envDefault:"postgres"`
	DatabaseURL string `env:"DATABASE_URL"`
}

type EmailConfig struct {
	SendGridAPIKey     string `env:"SENDGRID_API_KEY,notEmpty"`
	FromEmail          string `env:"SENDGRID_FROM_EMAIL,notEmpty"`
	FromName           string `env:"SENDGRID_FROM_NAME" envDefault:"STARS Expiry"`
	UnsubscribeGroupID int    `env:"SENDGRID_UNSUBSCRIBE_GROUP_ID" envDefault:"27661"`
}

// QueueConfig enables deferred dispatch when RedisURL is set.
type QueueConfig struct {
	RedisURL      string        `env:"REDIS_URL"`
	Key           string        `env:"QUEUE_KEY" envDefault:"auth-expiry:send-jobs"`
	TargetURL     string        `env:"QUEUE_TARGET_URL"`
	APIKey        string        `env:"QUEUE_API_KEY"`
	PollInterval  time.Duration `env:"QUEUE_POLL_INTERVAL" envDefault:"1s"`
	MaxAttempts   int           `env:"QUEUE_MAX_ATTEMPTS" envDefault:"5"`
	RatePerSecond float64       `env:"QUEUE_RATE_PER_SECOND" envDefault:"5"`
}

type ScheduleConfig struct {
	CronSpecCheck string `env:"CRON_SPEC_CHECK"` // empty disables the in-process trigger
	DispatchMode  string `env:"CRON_DISPATCH_MODE" envDefault:"immediate"`
}

// OpsConfig enables Telegram pass reports when both fields are set.
type OpsConfig struct {
	TelegramToken  string `env:"OPS_TELEGRAM_TOKEN"`
	TelegramChatID int64  `env:"OPS_TELEGRAM_CHAT_ID"`
}

// AppConfig holds all configuration for the application
type AppConfig struct {
	Stars    StarsConfig
	Store    StoreConfig
	Email    EmailConfig
	Queue    QueueConfig
	Schedule ScheduleConfig
	Ops      OpsConfig

	ExpiryWarningDays int           `env:"EXPIRY_WARNING_DAYS" envDefault:"30"`
	DispatchStagger   time.Duration `env:"DISPATCH_STAGGER" envDefault:"20s"`
	PendingBatchTTL   time.Duration `env:"PENDING_BATCH_TTL" envDefault:"24h"` // 0 keeps pending batches in flight forever
	HTTPAddr          string        `env:"HTTP_ADDR" envDefault:":8080"`
	APIKeyHeaderName  string        `env:"API_KEY_HEADER_NAME" envDefault:"X-API-Key"`
	LogLevel          string        `env:"LOG_LEVEL" envDefault:"info"`
	Environment       string        `env:"ENVIRONMENT" envDefault:"development"`
}

// Load reads configuration from environment variables and .env file (if present).
func Load() (*AppConfig, error) {
	// godotenv.Load will not override existing env variables.
	_ = godotenv.Load()

	cfg := &AppConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	cfg.Environment = strings.ToLower(cfg.Environment)
	cfg.Store.Driver = strings.ToLower(cfg.Store.Driver)
	cfg.Schedule.DispatchMode = strings.ToLower(cfg.Schedule.DispatchMode)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks rules that span several variables.
func (c *AppConfig) Validate() error {
	switch c.Store.Driver {
	case DriverPostgres, DriverSQLite:
		if c.Store.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is not set (required for STORE_DRIVER=%s)", c.Store.Driver)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("invalid STORE_DRIVER %q", c.Store.Driver)
	}

	if c.ExpiryWarningDays < 0 {
		return fmt.Errorf("EXPIRY_WARNING_DAYS must not be negative")
	}
	if c.DispatchStagger < 0 {
		return fmt.Errorf("DISPATCH_STAGGER must not be negative")
	}
	if c.PendingBatchTTL < 0 {
		return fmt.Errorf("PENDING_BATCH_TTL must not be negative")
	}

	if c.QueueEnabled() {
		if c.Queue.TargetURL == "" {
			return fmt.Errorf("QUEUE_TARGET_URL is not set (required when REDIS_URL is set)")
		}
		if c.Queue.MaxAttempts < 1 {
			return fmt.Errorf("QUEUE_MAX_ATTEMPTS must be at least 1")
		}
		if c.Queue.RatePerSecond <= 0 {
			return fmt.Errorf("QUEUE_RATE_PER_SECOND must be positive")
		}
	}

	switch c.Schedule.DispatchMode {
	case DispatchImmediate:
	case DispatchDeferred:
		if c.Schedule.CronSpecCheck != "" && !c.QueueEnabled() {
			return fmt.Errorf("CRON_DISPATCH_MODE=deferred requires REDIS_URL")
		}
	default:
		return fmt.Errorf("invalid CRON_DISPATCH_MODE %q", c.Schedule.DispatchMode)
	}
	return nil
}

func (c *AppConfig) QueueEnabled() bool { return c.Queue.RedisURL != "" }

func (c *AppConfig) OpsReportsEnabled() bool {
	return c.Ops.TelegramToken != "" && c.Ops.TelegramChatID != 0
}

// LoadStore reads only the store settings, for tools that need nothing else.
func LoadStore() (*StoreConfig, error) {
	_ = godotenv.Load()

	cfg := &StoreConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.Driver = strings.ToLower(cfg.Driver)
	switch cfg.Driver {
	case DriverPostgres, DriverSQLite:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is not set (required for STORE_DRIVER=%s)", cfg.Driver)
		}
	default:
		return nil, fmt.Errorf("STORE_DRIVER must be postgres or sqlite, got %q", cfg.Driver)
	}
	return cfg, nil
}
