package server

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/notifyws/internal/presence"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// maxRateStrikes is how many frames in a row may exceed the inbound
	// bucket before the client is disconnected.
	maxRateStrikes = 3
)

// Client is the WebSocket transport of one presence connection. The server
// only pushes; inbound frames are read to service control frames and are
// otherwise discarded.
type Client struct {
	conn        *websocket.Conn
	send        chan []byte
	addr        string
	maxSize     int64
	rateLimiter *rateLimiter
	log         zerolog.Logger

	mu        sync.Mutex
	closed    bool
	closeCode int
	owner     *presence.Connection
}

var _ presence.Transport = (*Client)(nil)

// NewClient wraps an upgraded WebSocket connection.
func NewClient(conn *websocket.Conn, cfg Config, addr string, log zerolog.Logger) *Client {
	cfg = sanitizeConfig(cfg)
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}
	return &Client{
		conn:        conn,
		send:        make(chan []byte, cfg.SendBuffer),
		addr:        addr,
		maxSize:     cfg.MaxMessageSize,
		rateLimiter: newRateLimiter(cfg.RateLimit),
		log:         log.With().Str("remote_addr", addr).Logger(),
	}
}

// bind attaches the presence connection the client transports. Closing the
// socket from either pump closes the owner, which runs presence cleanup.
func (c *Client) bind(owner *presence.Connection) {
	c.mu.Lock()
	c.owner = owner
	c.log = c.log.With().Str("conn_id", owner.ID().String()).Str("user_id", owner.UserID()).Logger()
	c.mu.Unlock()
}

// Send queues payload for the write pump without blocking.
func (c *Client) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClientClosed
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close stops the write pump, which sends a close frame and closes the
// socket. It is safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	close(c.send)
	return nil
}

// shutdown closes the owning presence connection, or the bare client when
// it was never bound.
func (c *Client) shutdown() {
	c.mu.Lock()
	owner := c.owner
	c.mu.Unlock()

	if owner != nil {
		_ = owner.Close()
		return
	}
	_ = c.Close()
}

func (c *Client) logger() *zerolog.Logger {
	c.mu.Lock()
	defer c.mu.Unlock()
	l := c.log
	return &l
}

func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger().Debug().Err(err).Msg("error setting initial read deadline")
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
}

// handleReadError logs why the read loop stopped.
func (c *Client) handleReadError(err error) {
	log := c.logger()

	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		log.Warn().Int64("limit", c.maxSize).Msg("inbound frame exceeded maximum size")
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived):
		log.Debug().Err(err).Msg("client disconnected")
	case errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || isExpectedCloseError(err):
		log.Debug().Err(err).Msg("connection closed")
	case websocket.IsUnexpectedCloseError(err, websocket.CloseAbnormalClosure):
		log.Warn().Err(err).Msg("unexpected WebSocket close")
	default:
		log.Debug().Err(err).Msg("WebSocket read error")
	}
}

// readPump services control frames and discards data frames until the socket
// fails, then closes the owning connection.
func (c *Client) readPump() {
	defer c.shutdown()

	c.setupReadConnection()
	strikes := 0
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			c.handleReadError(err)
			return
		}
		if c.rateLimiter.allow() {
			strikes = 0
			continue
		}
		strikes++
		if strikes >= maxRateStrikes {
			c.logger().Warn().Int("strikes", strikes).Msg("inbound rate limit exceeded; disconnecting client")
			c.closeWith(websocket.ClosePolicyViolation)
			return
		}
		c.logger().Debug().Int("strikes", strikes).Msg("inbound rate limit exceeded; discarding frame")
	}
}

// closeWith records the close code the write pump sends and shuts the
// client down.
func (c *Client) closeWith(code int) {
	c.mu.Lock()
	if !c.closed && c.closeCode == 0 {
		c.closeCode = code
	}
	c.mu.Unlock()
	c.shutdown()
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
		c.shutdown()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message, ok := <-c.send:
		if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			return false
		}
		if !ok {
			c.writeCloseMessage()
			return false
		}
		return c.writeTextMessage(message)
	case <-ticker.C:
		return c.writePing()
	}
}

func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.logger().Debug().Err(err).Msg("error closing connection")
	}
}

func (c *Client) writeCloseMessage() {
	c.mu.Lock()
	code := c.closeCode
	c.mu.Unlock()
	if code == 0 {
		code = websocket.CloseNormalClosure
	}
	msg := websocket.FormatCloseMessage(code, "")
	if err := c.conn.WriteMessage(websocket.CloseMessage, msg); err != nil && !isExpectedCloseError(err) {
		c.logger().Debug().Err(err).Msg("error writing close message")
	}
}

// writeTextMessage writes message as one text frame. Each payload is a
// complete document, so queued payloads are not coalesced.
func (c *Client) writeTextMessage(message []byte) bool {
	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			c.logger().Debug().Err(err).Msg("error writing message")
		}
		return false
	}
	return true
}

func (c *Client) writePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.logger().Debug().Err(err).Msg("error writing ping")
		return false
	}
	return true
}
