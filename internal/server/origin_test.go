package server

import (
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestOriginPolicy(t *testing.T) {
	policy := newOriginPolicy([]string{" HTTP://App.Example.com ", "not-a-url", "", "https://other.example.com:8443"}, zerolog.Nop())

	tests := []struct {
		name   string
		origin string
		want   bool
	}{
		{"exact", "http://app.example.com", true},
		{"case insensitive", "http://APP.example.COM", true},
		{"path ignored", "http://app.example.com/chat", true},
		{"port must match", "https://other.example.com:8443", true},
		{"wrong port", "https://other.example.com", false},
		{"wrong scheme", "https://app.example.com", false},
		{"unlisted", "http://evil.example.com", false},
		{"missing", "", false},
		{"malformed", "://nope", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/ws", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, policy.check(r))
		})
	}
}

func TestOriginPolicyWildcard(t *testing.T) {
	policy := newOriginPolicy([]string{"*"}, zerolog.Nop())

	r := httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Origin", "https://anything.example.org")
	assert.True(t, policy.allows(r))

	r.Header.Del("Origin")
	assert.False(t, policy.allows(r))
}

func TestNormalizeOrigin(t *testing.T) {
	got, ok := normalizeOrigin("HTTPS://Example.COM/path?q=1")
	assert.True(t, ok)
	assert.Equal(t, "https://example.com", got)

	_, ok = normalizeOrigin("example.com")
	assert.False(t, ok)
}
