package presence

import (
	"sync"

	"github.com/google/uuid"

	"github.com/Tyrowin/notifyws/internal/domain"
)

// Transport is the socket under a connection.
type Transport interface {
	// Send queues a text frame without blocking on network I/O.
	Send(payload []byte) error
	// Close closes the socket. It must be safe to call more than once.
	Close() error
}

// Connection bundles a socket with the identity resolved at handshake time.
// The identity never changes after construction.
type Connection struct {
	id        uuid.UUID
	user      domain.User
	token     domain.Token
	transport Transport

	mu        sync.Mutex
	onClose   func(*Connection)
	closed    bool
	closeOnce sync.Once
	closeErr  error
}

// NewConnection wraps transport with the user and token that authenticated it.
func NewConnection(transport Transport, user domain.User, token domain.Token) *Connection {
	user.Rooms = append([]string(nil), user.Rooms...)
	return &Connection{
		id:        uuid.New(),
		user:      user,
		token:     token,
		transport: transport,
	}
}

// ID returns the connection's unique identifier.
func (c *Connection) ID() uuid.UUID { return c.id }

// UserID returns the ID of the authenticated user.
func (c *Connection) UserID() string { return c.user.ID }

// User returns the user record as it was at handshake time.
func (c *Connection) User() domain.User {
	u := c.user
	u.Rooms = append([]string(nil), c.user.Rooms...)
	return u
}

// Token returns the session credential the connection was admitted with.
func (c *Connection) Token() domain.Token { return c.token }

// Send queues payload on the socket.
func (c *Connection) Send(payload []byte) error {
	return c.transport.Send(payload)
}

// Close closes the socket and runs the cleanup hook registered at admission.
// Only the first call has an effect, whoever makes it.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		hook := c.onClose
		c.mu.Unlock()

		c.closeErr = c.transport.Close()
		if hook != nil {
			hook(c)
		}
	})
	return c.closeErr
}

// setOnClose registers the cleanup hook. It reports false when the
// connection was already closed, in which case the hook would never run.
func (c *Connection) setOnClose(hook func(*Connection)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.onClose = hook
	return true
}
