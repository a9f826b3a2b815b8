package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Port)
	assert.Equal(t, "notify_token", cfg.SessionCookie)
	assert.Equal(t, 720*time.Hour, cfg.SessionMaxAge)
	assert.Equal(t, []string{"http://localhost:8080"}, cfg.AllowedOrigins)
	assert.Equal(t, DriverPostgres, cfg.StoreDriver)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("SERVER_PORT", ":9090")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("SESSION_MAX_AGE", "1h")
	t.Setenv("STORE_DRIVER", "memory")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Port)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, time.Hour, cfg.SessionMaxAge)
	assert.Equal(t, DriverMemory, cfg.StoreDriver)
}

func TestLoadRejectsMalformedDuration(t *testing.T) {
	t.Setenv("SESSION_MAX_AGE", "forever")

	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	cfg.SessionCookie = " "
	cfg.SessionMaxAge = 0
	cfg.StoreDriver = "mongo"

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SESSION_COOKIE")
	assert.Contains(t, err.Error(), "SESSION_MAX_AGE")
	assert.Contains(t, err.Error(), "mongo")
}
