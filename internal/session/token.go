// Package session resolves session credentials: it extracts token values from
// cookies and headers, validates tokens against their maximum age and the
// external store, and gates incoming WebSocket handshakes.
package session

import (
	"errors"
	"net/http"
	"strings"
)

// ErrNoToken is returned when no session token can be found.
var ErrNoToken = errors.New("session token not found")

// TokenFromCookie returns the value of the cookie called name in a raw Cookie
// header.
func TokenFromCookie(cookieHeader, name string) (string, error) {
	if cookieHeader == "" || name == "" {
		return "", ErrNoToken
	}
	cookies, err := http.ParseCookie(cookieHeader)
	if err != nil {
		return "", ErrNoToken
	}
	for _, c := range cookies {
		if c.Name == name && c.Value != "" {
			return c.Value, nil
		}
	}
	return "", ErrNoToken
}

// Extractor finds the session token of a request from its headers, reading the
// configured cookie first and falling back to the configured header.
type Extractor struct {
	Cookie string
	Header string
}

// FromHeaders extracts the token from a header map with case-insensitive keys.
func (e Extractor) FromHeaders(headers map[string]string) (string, error) {
	if len(headers) == 0 {
		return "", ErrNoToken
	}
	if token, err := TokenFromCookie(lookup(headers, "cookie"), e.Cookie); err == nil {
		return token, nil
	}
	if e.Header != "" {
		if token := strings.TrimSpace(lookup(headers, e.Header)); token != "" {
			return token, nil
		}
	}
	return "", ErrNoToken
}

func lookup(headers map[string]string, key string) string {
	if v, ok := headers[key]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}
