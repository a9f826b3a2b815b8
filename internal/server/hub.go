package server

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Hub owns the pump goroutines of every attached client and closes them all
// on shutdown. Routing of payloads lives in the presence manager; the hub
// only tracks socket lifetimes.
type Hub struct {
	clients    map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	log        zerolog.Logger
}

// NewHub creates a hub. Run must be started before clients are attached.
func NewHub(log zerolog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		log:        log.With().Str("component", "hub").Logger(),
	}
}

// Attach hands a client to the hub, which starts its pumps.
func (h *Hub) Attach(client *Client) error {
	select {
	case h.register <- client:
		return nil
	case <-h.done:
		return ErrHubClosed
	}
}

func (h *Hub) detach(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// ClientCount returns the number of clients whose pumps are running.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// Run is the hub's event loop. It should be called in a separate goroutine.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				continue
			}
			h.mutex.Lock()
			h.clients[client] = struct{}{}
			count := len(h.clients)
			h.mutex.Unlock()
			h.log.Debug().Str("remote_addr", client.addr).Int("clients", count).Msg("client attached")

			h.wg.Add(2)
			go func() {
				defer h.wg.Done()
				client.writePump()
			}()
			go func() {
				defer h.wg.Done()
				defer h.detach(client)
				client.readPump()
			}()

		case client := <-h.unregister:
			h.mutex.Lock()
			delete(h.clients, client)
			count := len(h.clients)
			h.mutex.Unlock()
			h.log.Debug().Str("remote_addr", client.addr).Int("clients", count).Msg("client detached")
		}
	}
}

// shutdownClients closes every attached client through its presence
// connection, so each one goes through the normal disconnect cleanup.
func (h *Hub) shutdownClients() {
	h.mutex.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mutex.Unlock()

	for _, client := range clients {
		client.shutdown()
	}
	h.log.Info().Int("clients", len(clients)).Msg("closed client connections")
}

// Shutdown closes all clients and waits for their pumps to exit or for the
// timeout to elapse.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info().Msg("initiating hub shutdown")
	h.cancel()

	done := make(chan struct{})
	go func() {
		<-h.done
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info().Msg("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.log.Warn().Msg("hub shutdown timeout reached; some pumps may still be running")
		return context.DeadlineExceeded
	}
}
