package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/Tyrowin/notifyws/internal/domain"
	"github.com/Tyrowin/notifyws/internal/store"
)

var (
	// ErrTokenExpired is returned when a token is older than the maximum age.
	ErrTokenExpired = errors.New("session token expired")
	// ErrTokenRevoked is returned when a token no longer exists in the store.
	ErrTokenRevoked = errors.New("session token revoked")
	// ErrOriginMismatch is returned when a request origin differs from the
	// origin a token was issued for.
	ErrOriginMismatch = errors.New("session origin mismatch")
	// ErrStoreUnavailable wraps store failures that say nothing about the
	// validity of a token.
	ErrStoreUnavailable = errors.New("session store unavailable")
)

// Store is the subset of the external store used to resolve sessions.
type Store interface {
	FindTokenByValue(ctx context.Context, value string) (domain.Token, error)
	FindToken(ctx context.Context, id string) (domain.Token, error)
	FindUser(ctx context.Context, id string) (domain.User, error)
}

// Validator checks session tokens against their maximum age and the store.
type Validator struct {
	store  Store
	maxAge time.Duration
	now    func() time.Time
}

// NewValidator creates a validator enforcing maxAge.
func NewValidator(s Store, maxAge time.Duration) *Validator {
	return &Validator{store: s, maxAge: maxAge, now: time.Now}
}

// MaxAge returns the configured maximum token age.
func (v *Validator) MaxAge() time.Duration {
	return v.maxAge
}

// Validate re-checks a previously resolved token. It fails with
// ErrTokenExpired or ErrTokenRevoked when the token must no longer be
// honoured, and with ErrStoreUnavailable when the store could not answer.
func (v *Validator) Validate(ctx context.Context, token domain.Token) error {
	if err := v.checkAge(token); err != nil {
		return err
	}
	if _, err := v.store.FindToken(ctx, token.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrTokenRevoked
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Resolve looks up a token by value and returns it with its owner, enforcing
// the maximum age and, when origin is non-empty, the token's issuing origin.
func (v *Validator) Resolve(ctx context.Context, value, origin string) (domain.Token, domain.User, error) {
	token, err := v.store.FindTokenByValue(ctx, value)
	if err != nil {
		return domain.Token{}, domain.User{}, fmt.Errorf("find token: %w", err)
	}
	if err := v.checkAge(token); err != nil {
		return domain.Token{}, domain.User{}, err
	}
	if origin != "" && token.Origin != "" && !sameOrigin(origin, token.Origin) {
		return domain.Token{}, domain.User{}, ErrOriginMismatch
	}
	user, err := v.store.FindUser(ctx, token.UserID)
	if err != nil {
		return domain.Token{}, domain.User{}, fmt.Errorf("find token owner: %w", err)
	}
	return token, user, nil
}

func (v *Validator) checkAge(token domain.Token) error {
	if v.maxAge > 0 && token.Age(v.now()) > v.maxAge {
		return ErrTokenExpired
	}
	return nil
}

func sameOrigin(a, b string) bool {
	return canonicalOrigin(a) == canonicalOrigin(b)
}

func canonicalOrigin(origin string) string {
	origin = strings.TrimSpace(origin)
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return strings.ToLower(strings.TrimSuffix(origin, "/"))
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host)
}
