package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/notifyws/internal/domain"
	"github.com/Tyrowin/notifyws/internal/presence"
	"github.com/Tyrowin/notifyws/internal/session"
)

type fakeTransport struct {
	mu      sync.Mutex
	sent    [][]byte
	closes  int
	sendErr error
	delay   time.Duration
}

func (f *fakeTransport) Send(payload []byte) error {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, payload)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeTransport) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeValidator struct {
	mu    sync.Mutex
	calls int
	fail  map[string]error // token ID -> error
}

func (v *fakeValidator) Validate(_ context.Context, token domain.Token) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls++
	return v.fail[token.ID]
}

type fakeTokens struct {
	mu      sync.Mutex
	deleted []string
	err     error
}

func (s *fakeTokens) DeleteToken(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, id)
	return s.err
}

func newConn(userID string) (*presence.Connection, *fakeTransport) {
	tr := &fakeTransport{}
	return presence.NewConnection(tr,
		domain.User{ID: userID},
		domain.Token{ID: "t-" + userID, Value: "v-" + userID},
	), tr
}

func newAuthorizer(v CredentialValidator, tokens TokenStore) *Authorizer {
	return NewAuthorizer(v, tokens, session.Extractor{Cookie: "notify_token", Header: "x-notify-token"}, 4, zerolog.Nop())
}

func originOf(tokenValue string) Origin {
	return Origin{Headers: map[string]string{"cookie": "notify_token=" + tokenValue}}
}

func TestDeliverFromCodeSendsWithoutChecks(t *testing.T) {
	v := &fakeValidator{}
	a := newAuthorizer(v, &fakeTokens{})
	conn, tr := newConn("u1")

	assert.Equal(t, Delivered, a.Deliver(context.Background(), conn, []byte("p"), Origin{}))
	assert.Equal(t, 1, tr.sentCount())
	assert.Zero(t, v.calls)
}

func TestDeliverSuppressesAuthor(t *testing.T) {
	v := &fakeValidator{fail: map[string]error{"t-u1": session.ErrTokenExpired}}
	tokens := &fakeTokens{}
	a := newAuthorizer(v, tokens)
	conn, tr := newConn("u1")

	outcome := a.Deliver(context.Background(), conn, []byte("p"), originOf("v-u1"))

	assert.Equal(t, Suppressed, outcome)
	assert.Zero(t, tr.sentCount())
	assert.Zero(t, v.calls, "suppression is terminal")
	assert.Empty(t, tokens.deleted)
}

func TestDeliverSuppressesOnlyExactToken(t *testing.T) {
	v := &fakeValidator{}
	a := newAuthorizer(v, &fakeTokens{})
	conn, tr := newConn("u1")

	for _, value := range []string{"v-u", "v-u1x", "V-U1"} {
		assert.Equal(t, Delivered, a.Deliver(context.Background(), conn, []byte("p"), originOf(value)), value)
	}
	assert.Equal(t, 3, tr.sentCount())
}

func TestDeliverRevalidatesOtherRecipients(t *testing.T) {
	v := &fakeValidator{}
	a := newAuthorizer(v, &fakeTokens{})
	conn, tr := newConn("u2")

	assert.Equal(t, Delivered, a.Deliver(context.Background(), conn, []byte("p"), originOf("v-u1")))
	assert.Equal(t, 1, tr.sentCount())
	assert.Equal(t, 1, v.calls)
}

func TestDeliverReapsStaleCredential(t *testing.T) {
	v := &fakeValidator{fail: map[string]error{"t-u2": session.ErrTokenExpired}}
	tokens := &fakeTokens{}
	a := newAuthorizer(v, tokens)
	conn, tr := newConn("u2")

	outcome := a.Deliver(context.Background(), conn, []byte("p"), originOf("v-u1"))

	assert.Equal(t, Reaped, outcome)
	assert.Equal(t, []string{"t-u2"}, tokens.deleted)
	assert.Equal(t, 1, tr.closes)
	assert.Zero(t, tr.sentCount())
}

func TestDeliverReapRunsPresenceCleanup(t *testing.T) {
	m := presence.NewManager(noopStateStore{}, 4, zerolog.Nop())
	go m.Run()
	defer func() { _ = m.Shutdown(time.Second) }()

	conn, _ := newConn("u2")
	require.NoError(t, m.Admit(conn))
	m.AddToRoom("r1", conn)

	v := &fakeValidator{fail: map[string]error{"t-u2": session.ErrTokenRevoked}}
	a := newAuthorizer(v, &fakeTokens{})

	assert.Equal(t, Reaped, a.Deliver(context.Background(), conn, []byte("p"), originOf("v-u1")))

	_, ok := m.Connection("u2")
	assert.False(t, ok)
	assert.Empty(t, m.ConnectionsInRoom("r1"))
}

func TestDeliverClosesEvenWhenTokenDeleteFails(t *testing.T) {
	v := &fakeValidator{fail: map[string]error{"t-u2": session.ErrTokenRevoked}}
	tokens := &fakeTokens{err: errors.New("store down")}
	a := newAuthorizer(v, tokens)
	conn, tr := newConn("u2")

	assert.Equal(t, Reaped, a.Deliver(context.Background(), conn, []byte("p"), originOf("v-u1")))
	assert.Len(t, tokens.deleted, 1)
	assert.Equal(t, 1, tr.closes)
}

func TestDeliverStoreUnavailableStillDelivers(t *testing.T) {
	v := &fakeValidator{fail: map[string]error{"t-u2": fmt.Errorf("%w: timeout", session.ErrStoreUnavailable)}}
	tokens := &fakeTokens{}
	a := newAuthorizer(v, tokens)
	conn, tr := newConn("u2")

	assert.Equal(t, Delivered, a.Deliver(context.Background(), conn, []byte("p"), originOf("v-u1")))
	assert.Equal(t, 1, tr.sentCount())
	assert.Empty(t, tokens.deleted)
	assert.Zero(t, tr.closes)
}

func TestDeliverUntrustedOrigin(t *testing.T) {
	v := &fakeValidator{}
	a := newAuthorizer(v, &fakeTokens{})
	conn, tr := newConn("u2")

	origin := Origin{Headers: map[string]string{"user-agent": "curl"}}
	assert.Equal(t, Untrusted, a.Deliver(context.Background(), conn, []byte("p"), origin))
	assert.Zero(t, tr.sentCount())
	assert.Zero(t, v.calls)
}

func TestDeliverHeaderFallback(t *testing.T) {
	a := newAuthorizer(&fakeValidator{}, &fakeTokens{})
	conn, tr := newConn("u1")

	origin := Origin{Headers: map[string]string{"X-Notify-Token": "v-u1"}}
	assert.Equal(t, Suppressed, a.Deliver(context.Background(), conn, []byte("p"), origin))
	assert.Zero(t, tr.sentCount())
}

func TestDeliverDroppedOnSendFailure(t *testing.T) {
	a := newAuthorizer(&fakeValidator{}, &fakeTokens{})
	conn, tr := newConn("u1")
	tr.sendErr = errors.New("buffer full")

	assert.Equal(t, Dropped, a.Deliver(context.Background(), conn, []byte("p"), Origin{}))
}

func TestFanoutIsolatesRecipients(t *testing.T) {
	v := &fakeValidator{fail: map[string]error{"t-u3": session.ErrTokenExpired}}
	tokens := &fakeTokens{}
	a := newAuthorizer(v, tokens)

	author, authorTr := newConn("u1")
	ok, okTr := newConn("u2")
	stale, staleTr := newConn("u3")
	broken, brokenTr := newConn("u4")
	brokenTr.sendErr = errors.New("closed")
	slow, slowTr := newConn("u5")
	slowTr.delay = 20 * time.Millisecond

	counts := a.Fanout(context.Background(),
		[]*presence.Connection{author, ok, stale, broken, slow},
		[]byte("payload"), originOf("v-u1"))

	assert.Equal(t, map[Outcome]int{Suppressed: 1, Delivered: 2, Reaped: 1, Dropped: 1}, counts)
	assert.Zero(t, authorTr.sentCount())
	assert.Equal(t, 1, okTr.sentCount())
	assert.Equal(t, 1, slowTr.sentCount())
	assert.Zero(t, staleTr.sentCount())
	assert.Equal(t, []string{"t-u3"}, tokens.deleted)
}

func TestFanoutEmpty(t *testing.T) {
	a := newAuthorizer(&fakeValidator{}, &fakeTokens{})
	assert.Empty(t, a.Fanout(context.Background(), nil, []byte("p"), Origin{}))
}

type noopStateStore struct{}

func (noopStateStore) UpdateUserState(context.Context, string, string) error { return nil }
func (noopStateStore) ListStates(context.Context) ([]domain.State, error) { return nil, nil }
