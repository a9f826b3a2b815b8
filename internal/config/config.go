// Package config loads the notification server configuration from the
// environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config holds all configuration for the notification server.
type Config struct {
	ServiceName     string        `env:"SERVICE_NAME" envDefault:"notifyws"`
	Port            string        `env:"SERVER_PORT" envDefault:":8080"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat       string        `env:"LOG_FORMAT" envDefault:"json"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	// WebSocket transport
	AllowedOrigins   []string      `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:8080"`
	MaxMessageSize   int64         `env:"MAX_MESSAGE_SIZE" envDefault:"512"`
	RateLimitBurst   int           `env:"RATE_LIMIT_BURST" envDefault:"5"`
	RateLimitRefill  time.Duration `env:"RATE_LIMIT_REFILL_INTERVAL" envDefault:"1s"`
	BroadcastWorkers int           `env:"BROADCAST_CONCURRENCY" envDefault:"64"`
	StateQueueSize   int           `env:"STATE_QUEUE_SIZE" envDefault:"1024"`

	// External store
	StoreDriver string `env:"STORE_DRIVER" envDefault:"postgres"`
	DatabaseURL string `env:"DATABASE_URL" envDefault:"postgres://localhost:5432/notify"`

	// Event bus
	NATSURL  string `env:"NATS_URL" envDefault:"nats://localhost:4222"`
	NATSName string `env:"NATS_NAME" envDefault:"notifyws"`

	// Session
	SessionCookie string        `env:"SESSION_COOKIE" envDefault:"notify_token"`
	SessionHeader string        `env:"SESSION_HEADER" envDefault:"x-notify-token"`
	SessionMaxAge time.Duration `env:"SESSION_MAX_AGE" envDefault:"720h"`

	// OpenTelemetry
	EnableTracing bool   `env:"OTEL_ENABLED" envDefault:"false"`
	OTLPEndpoint  string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:""`
}

// Load reads a .env file when present and parses environment variables into
// Config.
func Load() (*Config, error) {
	// Missing .env is the normal case outside local development.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}
	for i := range cfg.AllowedOrigins {
		cfg.AllowedOrigins[i] = strings.TrimSpace(cfg.AllowedOrigins[i])
	}
	return cfg, nil
}

// Validate checks settings that have no usable default.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.SessionCookie) == "" {
		errs = append(errs, errors.New("SESSION_COOKIE is required"))
	}
	if c.SessionMaxAge <= 0 {
		errs = append(errs, errors.New("SESSION_MAX_AGE must be positive"))
	}
	switch c.StoreDriver {
	case DriverPostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres store"))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver))
	}
	if strings.TrimSpace(c.NATSURL) == "" {
		errs = append(errs, errors.New("NATS_URL is required"))
	}
	return errors.Join(errs...)
}
