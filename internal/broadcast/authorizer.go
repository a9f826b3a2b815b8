// Package broadcast decides, per recipient connection, whether a change
// payload may be delivered, and performs the delivery or the disconnect.
package broadcast

import (
	"context"
	"crypto/subtle"
	"errors"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Tyrowin/notifyws/internal/domain"
	"github.com/Tyrowin/notifyws/internal/metrics"
	"github.com/Tyrowin/notifyws/internal/presence"
	"github.com/Tyrowin/notifyws/internal/session"
)

// Outcome is the decision taken for one recipient.
type Outcome string

// Delivery outcomes.
const (
	Delivered  Outcome = metrics.OutcomeDelivered
	Suppressed Outcome = metrics.OutcomeSuppressed
	Reaped     Outcome = metrics.OutcomeReaped
	Untrusted  Outcome = metrics.OutcomeUntrusted
	Dropped    Outcome = metrics.OutcomeDropped
)

// Origin describes the request that caused a change. Nil Headers mean the
// change was made by code and has no author.
type Origin struct {
	Headers map[string]string
}

// FromCode reports whether the change has no client author.
func (o Origin) FromCode() bool {
	return o.Headers == nil
}

// CredentialValidator re-checks a recipient's session credential.
type CredentialValidator interface {
	Validate(ctx context.Context, token domain.Token) error
}

// TokenStore deletes credentials that failed re-validation.
type TokenStore interface {
	DeleteToken(ctx context.Context, id string) error
}

// TokenExtractor resolves the session token value of a change origin.
type TokenExtractor interface {
	FromHeaders(headers map[string]string) (string, error)
}

// Authorizer delivers payloads to recipients after checking authorship and
// credential validity.
type Authorizer struct {
	validator   CredentialValidator
	tokens      TokenStore
	extractor   TokenExtractor
	concurrency int
	log         zerolog.Logger
}

// NewAuthorizer creates an authorizer. concurrency bounds the number of
// recipients handled at once by Fanout.
func NewAuthorizer(validator CredentialValidator, tokens TokenStore, extractor TokenExtractor, concurrency int, log zerolog.Logger) *Authorizer {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Authorizer{
		validator:   validator,
		tokens:      tokens,
		extractor:   extractor,
		concurrency: concurrency,
		log:         log.With().Str("component", "broadcast").Logger(),
	}
}

// Deliver sends payload to conn unless conn belongs to the author of the
// change or its credential is no longer valid. It never returns an error:
// every failure is confined to this recipient.
func (a *Authorizer) Deliver(ctx context.Context, conn *presence.Connection, payload []byte, origin Origin) Outcome {
	outcome := a.deliver(ctx, conn, payload, origin)
	metrics.RecordDelivery(string(outcome))
	return outcome
}

func (a *Authorizer) deliver(ctx context.Context, conn *presence.Connection, payload []byte, origin Origin) Outcome {
	if origin.FromCode() {
		return a.send(conn, payload)
	}

	author, err := a.extractor.FromHeaders(origin.Headers)
	if err != nil {
		a.log.Warn().
			Err(err).
			Str("conn_id", conn.ID().String()).
			Interface("meta", origin.Headers).
			Msg("untrusted socket broadcast")
		return Untrusted
	}

	if subtle.ConstantTimeCompare([]byte(author), []byte(conn.Token().Value)) == 1 {
		return Suppressed
	}

	if err := a.validator.Validate(ctx, conn.Token()); err != nil {
		if errors.Is(err, session.ErrStoreUnavailable) {
			a.log.Warn().Err(err).Str("conn_id", conn.ID().String()).Msg("credential check unavailable; delivering")
			return a.send(conn, payload)
		}
		a.reap(ctx, conn, err)
		return Reaped
	}

	return a.send(conn, payload)
}

func (a *Authorizer) send(conn *presence.Connection, payload []byte) Outcome {
	if err := conn.Send(payload); err != nil {
		a.log.Debug().Err(err).Str("conn_id", conn.ID().String()).Msg("payload dropped")
		return Dropped
	}
	return Delivered
}

// reap deletes a stale credential and closes the socket that holds it.
func (a *Authorizer) reap(ctx context.Context, conn *presence.Connection, cause error) {
	token := conn.Token()
	a.log.Info().
		Err(cause).
		Str("user_id", conn.UserID()).
		Str("conn_id", conn.ID().String()).
		Msg("stale credential; disconnecting")

	if err := a.tokens.DeleteToken(ctx, token.ID); err != nil {
		a.log.Error().Err(err).Str("token_id", token.ID).Msg("failed to delete stale token")
	}
	if err := conn.Close(); err != nil {
		a.log.Debug().Err(err).Str("conn_id", conn.ID().String()).Msg("error closing stale connection")
	}
}

// Fanout delivers payload to every connection independently and waits until
// each recipient has been handled.
func (a *Authorizer) Fanout(ctx context.Context, conns []*presence.Connection, payload []byte, origin Origin) map[Outcome]int {
	outcomes := make(chan Outcome, len(conns))

	var g errgroup.Group
	g.SetLimit(a.concurrency)
	for _, conn := range conns {
		g.Go(func() error {
			outcomes <- a.Deliver(ctx, conn, payload, origin)
			return nil
		})
	}
	_ = g.Wait()
	close(outcomes)

	counts := make(map[Outcome]int)
	for o := range outcomes {
		counts[o]++
	}
	return counts
}
