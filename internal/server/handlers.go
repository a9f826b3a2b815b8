package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/notifyws/internal/metrics"
	"github.com/Tyrowin/notifyws/internal/presence"
	"github.com/Tyrowin/notifyws/internal/session"
)

// Verifier authenticates an upgrade request.
type Verifier interface {
	Verify(ctx context.Context, r *http.Request) (session.Identity, error)
}

// Admitter records an authenticated connection in the presence index.
type Admitter interface {
	Admit(conn *presence.Connection) error
}

// Server handles WebSocket handshakes and hands admitted sockets to the hub.
type Server struct {
	cfg      Config
	gate     Verifier
	presence Admitter
	hub      *Hub
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

// New creates a server.
func New(cfg Config, gate Verifier, presence Admitter, hub *Hub, log zerolog.Logger) *Server {
	cfg = sanitizeConfig(cfg)
	log = log.With().Str("component", "server").Logger()
	origins := newOriginPolicy(cfg.AllowedOrigins, log)

	return &Server{
		cfg:      cfg,
		gate:     gate,
		presence: presence,
		hub:      hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.check,
		},
		log: log,
	}
}

// WebSocketHandler authenticates the request before upgrading it. A request
// that fails authentication is answered with 401 and no state is created.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	identity, err := s.gate.Verify(r.Context(), r)
	if err != nil {
		metrics.HandshakesRejected.Inc()
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug().Err(err).Str("remote_addr", r.RemoteAddr).Msg("WebSocket upgrade failed")
		return
	}

	client := NewClient(ws, s.cfg, r.RemoteAddr, s.log)
	conn := presence.NewConnection(client, identity.User, identity.Token)
	client.bind(conn)

	if err := s.presence.Admit(conn); err != nil {
		s.log.Warn().Err(err).Str("user_id", identity.User.ID).Msg("admission failed")
		s.reject(ws)
		return
	}

	if err := s.hub.Attach(client); err != nil {
		_ = conn.Close()
		s.reject(ws)
	}
}

// reject closes a socket whose pumps never started.
func (s *Server) reject(ws *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "")
	_ = ws.WriteMessage(websocket.CloseMessage, msg)
	if err := ws.Close(); err != nil && !isExpectedCloseError(err) {
		s.log.Debug().Err(err).Msg("error closing rejected connection")
	}
}

// HealthHandler reports that the server is running.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprint(w, "notifyws server is running")
}
