package session

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/notifyws/internal/domain"
)

// ErrUnauthorized is the only error the gate reports to callers. The cause is
// logged but never exposed to the client.
var ErrUnauthorized = errors.New("unauthorized")

// Identity is what a successful handshake attaches to a connection.
type Identity struct {
	User  domain.User
	Token domain.Token
}

// Gate authenticates WebSocket upgrade requests.
type Gate struct {
	validator *Validator
	cookie    string
	log       zerolog.Logger
}

// NewGate creates a gate reading the session token from the named cookie.
func NewGate(validator *Validator, cookie string, log zerolog.Logger) *Gate {
	return &Gate{
		validator: validator,
		cookie:    cookie,
		log:       log.With().Str("component", "admission-gate").Logger(),
	}
}

// Verify resolves the user and token behind an upgrade request.
func (g *Gate) Verify(ctx context.Context, r *http.Request) (Identity, error) {
	value, err := TokenFromCookie(r.Header.Get("Cookie"), g.cookie)
	if err != nil {
		g.reject(r, err)
		return Identity{}, ErrUnauthorized
	}

	token, user, err := g.validator.Resolve(ctx, value, r.Header.Get("Origin"))
	if err != nil {
		g.reject(r, err)
		return Identity{}, ErrUnauthorized
	}

	return Identity{User: user, Token: token}, nil
}

func (g *Gate) reject(r *http.Request, cause error) {
	g.log.Debug().
		Err(cause).
		Str("remote_addr", r.RemoteAddr).
		Msg("handshake rejected")
}
