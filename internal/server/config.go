package server

import (
	"time"

	"github.com/Tyrowin/notifyws/internal/config"
)

// Defaults applied by sanitize to unset or invalid transport settings.
const (
	defaultPort           = ":8080"
	defaultMaxMessageSize = 512
	defaultBurst          = 5
	defaultRefill         = time.Second
	defaultSendBuffer     = 256
)

// RateLimitConfig defines the parameters for per-connection inbound frame
// rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Config holds the WebSocket transport settings of one server.
type Config struct {
	Port           string
	AllowedOrigins []string
	MaxMessageSize int64
	SendBuffer     int
	RateLimit      RateLimitConfig
}

// NewConfig derives the transport settings from the application config.
func NewConfig(cfg *config.Config) Config {
	return sanitizeConfig(Config{
		Port:           cfg.Port,
		AllowedOrigins: append([]string(nil), cfg.AllowedOrigins...),
		MaxMessageSize: cfg.MaxMessageSize,
		RateLimit: RateLimitConfig{
			Burst:          cfg.RateLimitBurst,
			RefillInterval: cfg.RateLimitRefill,
		},
	})
}

func sanitizeConfig(cfg Config) Config {
	if cfg.Port == "" {
		cfg.Port = defaultPort
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaultSendBuffer
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = defaultBurst
	}
	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = defaultRefill
	}
	return cfg
}
