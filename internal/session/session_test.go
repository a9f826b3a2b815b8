package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/notifyws/internal/domain"
	"github.com/Tyrowin/notifyws/internal/store"
)

var epoch = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func newTestStore() *store.MemoryStore {
	s := store.NewMemoryStore(zerolog.Nop())
	s.PutUser(domain.User{ID: "u1", Username: "ana", Rooms: []string{"r1"}})
	s.PutToken(domain.Token{ID: "t1", Value: "fresh", UserID: "u1", CreatedAt: epoch.Add(-time.Minute)})
	s.PutToken(domain.Token{ID: "t2", Value: "stale", UserID: "u1", CreatedAt: epoch.Add(-2 * time.Hour)})
	s.PutToken(domain.Token{ID: "t3", Value: "pinned", UserID: "u1", Origin: "https://app.example", CreatedAt: epoch})
	s.PutToken(domain.Token{ID: "t4", Value: "orphan", UserID: "ghost", CreatedAt: epoch})
	return s
}

func newTestValidator(s Store) *Validator {
	v := NewValidator(s, time.Hour)
	v.now = func() time.Time { return epoch }
	return v
}

func TestTokenFromCookie(t *testing.T) {
	token, err := TokenFromCookie("theme=dark; notify_token=abc123", "notify_token")
	require.NoError(t, err)
	assert.Equal(t, "abc123", token)

	_, err = TokenFromCookie("theme=dark", "notify_token")
	assert.ErrorIs(t, err, ErrNoToken)

	_, err = TokenFromCookie("", "notify_token")
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestExtractorFromHeaders(t *testing.T) {
	e := Extractor{Cookie: "notify_token", Header: "x-notify-token"}

	token, err := e.FromHeaders(map[string]string{"cookie": "notify_token=abc"})
	require.NoError(t, err)
	assert.Equal(t, "abc", token)

	token, err = e.FromHeaders(map[string]string{"X-Notify-Token": " def "})
	require.NoError(t, err)
	assert.Equal(t, "def", token)

	_, err = e.FromHeaders(map[string]string{"accept": "*/*"})
	assert.ErrorIs(t, err, ErrNoToken)

	_, err = e.FromHeaders(nil)
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestValidatorValidate(t *testing.T) {
	s := newTestStore()
	v := newTestValidator(s)
	ctx := context.Background()

	fresh, _ := s.FindToken(ctx, "t1")
	assert.NoError(t, v.Validate(ctx, fresh))

	stale, _ := s.FindToken(ctx, "t2")
	assert.ErrorIs(t, v.Validate(ctx, stale), ErrTokenExpired)

	require.NoError(t, s.DeleteToken(ctx, "t1"))
	assert.ErrorIs(t, v.Validate(ctx, fresh), ErrTokenRevoked)
}

type brokenStore struct{ Store }

func (brokenStore) FindToken(context.Context, string) (domain.Token, error) {
	return domain.Token{}, errors.New("connection refused")
}

func TestValidatorValidateStoreUnavailable(t *testing.T) {
	v := newTestValidator(brokenStore{})

	err := v.Validate(context.Background(), domain.Token{ID: "t1", CreatedAt: epoch})
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestValidatorResolve(t *testing.T) {
	v := newTestValidator(newTestStore())
	ctx := context.Background()

	token, user, err := v.Resolve(ctx, "fresh", "")
	require.NoError(t, err)
	assert.Equal(t, "t1", token.ID)
	assert.Equal(t, "u1", user.ID)

	_, _, err = v.Resolve(ctx, "pinned", "https://APP.example/")
	assert.NoError(t, err)

	_, _, err = v.Resolve(ctx, "pinned", "https://evil.example")
	assert.ErrorIs(t, err, ErrOriginMismatch)

	_, _, err = v.Resolve(ctx, "stale", "")
	assert.ErrorIs(t, err, ErrTokenExpired)

	_, _, err = v.Resolve(ctx, "orphan", "")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestGateVerify(t *testing.T) {
	gate := NewGate(newTestValidator(newTestStore()), "notify_token", zerolog.Nop())

	tests := []struct {
		name    string
		cookie  string
		origin  string
		wantErr bool
	}{
		{"valid token", "notify_token=fresh", "", false},
		{"missing cookie", "", "", true},
		{"unknown token", "notify_token=nope", "", true},
		{"expired token", "notify_token=stale", "", true},
		{"origin mismatch", "notify_token=pinned", "https://evil.example", true},
		{"owner missing", "notify_token=orphan", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/ws", nil)
			if tt.cookie != "" {
				r.Header.Set("Cookie", tt.cookie)
			}
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}

			id, err := gate.Verify(context.Background(), r)
			if tt.wantErr {
				// Every failure looks the same from the outside.
				assert.Equal(t, ErrUnauthorized, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "u1", id.User.ID)
			assert.Equal(t, "fresh", id.Token.Value)
		})
	}
}
