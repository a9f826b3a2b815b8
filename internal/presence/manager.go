// Package presence tracks which users are connected to this instance and which
// rooms their connections belong to.
//
// The Manager owns two indices: users (user ID to its single live connection)
// and rooms (room ID to the set of member connections present here). Every
// mutation takes the manager lock and is applied in full before the lock is
// released, so readers never observe a half-updated user or room entry.
package presence

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/notifyws/internal/domain"
	"github.com/Tyrowin/notifyws/internal/metrics"
)

var (
	// ErrNilConnection is returned when admitting a nil connection.
	ErrNilConnection = errors.New("nil connection")
	// ErrConnectionClosed is returned when admitting a connection that was
	// closed before admission completed.
	ErrConnectionClosed = errors.New("connection already closed")
	// ErrManagerClosed is returned once the manager has been shut down.
	ErrManagerClosed = errors.New("presence manager closed")
)

// Store is the subset of the external store the manager writes presence to.
type Store interface {
	UpdateUserState(ctx context.Context, userID, stateID string) error
	ListStates(ctx context.Context) ([]domain.State, error)
}

// Manager is the presence and room membership index of one instance.
type Manager struct {
	mu          sync.RWMutex
	users       map[string]*Connection
	rooms       map[string]map[*Connection]struct{}
	memberships map[*Connection]map[string]struct{} // reverse index
	closed      bool

	statesMu sync.RWMutex
	states   map[string]string

	store  Store
	writer *stateWriter
	log    zerolog.Logger
}

// NewManager creates an empty manager. queueSize bounds the number of
// presence state writes waiting for the store.
func NewManager(store Store, queueSize int, log zerolog.Logger) *Manager {
	log = log.With().Str("component", "presence").Logger()
	return &Manager{
		users:       make(map[string]*Connection),
		rooms:       make(map[string]map[*Connection]struct{}),
		memberships: make(map[*Connection]map[string]struct{}),
		states:      make(map[string]string),
		store:       store,
		writer:      newStateWriter(store, queueSize, log),
		log:         log,
	}
}

// Init loads the presence state identifiers and caches them for the process
// lifetime.
func (m *Manager) Init(ctx context.Context) error {
	m.log.Info().Msg("loading user states")

	states, err := m.store.ListStates(ctx)
	if err != nil {
		return fmt.Errorf("load states: %w", err)
	}

	m.statesMu.Lock()
	defer m.statesMu.Unlock()
	for _, st := range states {
		if key, ok := domain.StateKey(st.Name); ok {
			m.states[key] = st.ID
		}
	}
	return nil
}

// StateID returns the cached identifier for a presence state key.
func (m *Manager) StateID(key string) (string, bool) {
	m.statesMu.RLock()
	defer m.statesMu.RUnlock()
	id, ok := m.states[key]
	return id, ok
}

// Run applies presence state writes until Shutdown is called. It should be
// called in a separate goroutine.
func (m *Manager) Run() {
	m.writer.run()
}

// Shutdown rejects further admissions and waits for pending state writes.
func (m *Manager) Shutdown(timeout time.Duration) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	return m.writer.shutdown(timeout)
}

// Admit records conn as the live connection of its user and inserts it into
// every room the user belongs to. The connection can receive broadcasts as
// soon as Admit returns; the "online" state write happens asynchronously.
//
// A previous connection of the same user is detached from both indices and
// closed before the new one is recorded.
func (m *Manager) Admit(conn *Connection) error {
	if conn == nil {
		return ErrNilConnection
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	if _, ok := m.memberships[conn]; ok {
		m.mu.Unlock()
		return nil
	}
	if !conn.setOnClose(m.OnClose) {
		m.mu.Unlock()
		return ErrConnectionClosed
	}

	prior := m.users[conn.UserID()]
	if prior != nil {
		m.detachLocked(prior)
	}

	m.users[conn.UserID()] = conn
	m.memberships[conn] = make(map[string]struct{})
	for _, room := range conn.user.Rooms {
		m.addLocked(room, conn)
	}
	m.recordStatsLocked()
	m.mu.Unlock()

	if prior != nil {
		m.log.Info().
			Str("user_id", conn.UserID()).
			Str("conn_id", prior.ID().String()).
			Msg("replacing previous connection")
		// Already detached, so its cleanup hook is a no-op.
		_ = prior.Close()
	}

	m.requestState(conn, domain.StateOnline)
	m.log.Info().
		Str("user_id", conn.UserID()).
		Str("conn_id", conn.ID().String()).
		Msgf("%s signed in", conn.user.Username)
	return nil
}

// OnClose removes conn from the user index and from every room it is in, then
// requests the "offline" state. Calls for a connection that is not admitted
// are no-ops, which makes the cleanup idempotent.
func (m *Manager) OnClose(conn *Connection) {
	if conn == nil {
		return
	}

	m.mu.Lock()
	if _, ok := m.memberships[conn]; !ok {
		m.mu.Unlock()
		return
	}
	m.detachLocked(conn)
	m.recordStatsLocked()
	m.mu.Unlock()

	m.requestState(conn, domain.StateOffline)
	m.log.Info().
		Str("user_id", conn.UserID()).
		Str("conn_id", conn.ID().String()).
		Msgf("%s signed out", conn.user.Username)
}

// AddToRoom inserts an admitted connection into a room. It reports whether
// the room changed; adding an existing member or an unknown connection does
// nothing.
func (m *Manager) AddToRoom(roomID string, conn *Connection) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.memberships[conn]; !ok {
		return false
	}
	added := m.addLocked(roomID, conn)
	m.recordStatsLocked()
	return added
}

// RemoveFromRoom removes conn from a room, deleting the room entry when it was
// the last member. It reports whether the room changed.
func (m *Manager) RemoveFromRoom(roomID string, conn *Connection) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := m.removeLocked(roomID, conn)
	m.recordStatsLocked()
	return removed
}

// ResyncRoom replaces the members of a room with the live connections of
// userIDs. The clear and the repopulation happen under one lock.
func (m *Manager) ResyncRoom(roomID string, userIDs []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for conn := range m.rooms[roomID] {
		delete(m.memberships[conn], roomID)
	}
	delete(m.rooms, roomID)

	for _, userID := range userIDs {
		if conn, ok := m.users[userID]; ok {
			m.addLocked(roomID, conn)
		}
	}
	m.recordStatsLocked()
}

// SyncUserRooms adds the live connection of userID to each of rooms. It
// returns the connection, or nil when the user is not connected here.
func (m *Manager) SyncUserRooms(userID string, rooms []string) *Connection {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.users[userID]
	if !ok {
		return nil
	}
	for _, room := range rooms {
		m.addLocked(room, conn)
	}
	m.recordStatsLocked()
	return conn
}

// ConnectionsInRoom returns the members of a room present on this instance.
// Unknown rooms yield an empty result.
func (m *Manager) ConnectionsInRoom(roomID string) []*Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()

	members := m.rooms[roomID]
	out := make([]*Connection, 0, len(members))
	for conn := range members {
		out = append(out, conn)
	}
	return out
}

// Connections returns every admitted connection.
func (m *Manager) Connections() []*Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Connection, 0, len(m.users))
	for _, conn := range m.users {
		out = append(out, conn)
	}
	return out
}

// ConnectionsForUsers returns the live connections of the listed users.
func (m *Manager) ConnectionsForUsers(userIDs []string) []*Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[*Connection]struct{}, len(userIDs))
	out := make([]*Connection, 0, len(userIDs))
	for _, userID := range userIDs {
		conn, ok := m.users[userID]
		if !ok {
			continue
		}
		if _, dup := seen[conn]; dup {
			continue
		}
		seen[conn] = struct{}{}
		out = append(out, conn)
	}
	return out
}

// Connection returns the live connection of a user.
func (m *Manager) Connection(userID string) (*Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conn, ok := m.users[userID]
	return conn, ok
}

// RoomsOf returns the sorted IDs of the rooms conn is a member of.
func (m *Manager) RoomsOf(conn *Connection) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rooms := make([]string, 0, len(m.memberships[conn]))
	for room := range m.memberships[conn] {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)
	return rooms
}

// Stats returns the number of admitted connections and non-empty rooms.
func (m *Manager) Stats() (connections, rooms int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users), len(m.rooms)
}

func (m *Manager) addLocked(roomID string, conn *Connection) bool {
	members, ok := m.rooms[roomID]
	if !ok {
		members = make(map[*Connection]struct{})
		m.rooms[roomID] = members
	}
	if _, exists := members[conn]; exists {
		return false
	}
	members[conn] = struct{}{}
	m.memberships[conn][roomID] = struct{}{}
	return true
}

func (m *Manager) removeLocked(roomID string, conn *Connection) bool {
	members, ok := m.rooms[roomID]
	if !ok {
		return false
	}
	if _, exists := members[conn]; !exists {
		return false
	}
	delete(members, conn)
	if len(members) == 0 {
		delete(m.rooms, roomID)
	}
	delete(m.memberships[conn], roomID)
	return true
}

func (m *Manager) detachLocked(conn *Connection) {
	for room := range m.memberships[conn] {
		m.removeLocked(room, conn)
	}
	delete(m.memberships, conn)
	if m.users[conn.UserID()] == conn {
		delete(m.users, conn.UserID())
	}
}

func (m *Manager) recordStatsLocked() {
	metrics.RecordIndexSize(len(m.users), len(m.rooms))
}

func (m *Manager) requestState(conn *Connection, key string) {
	stateID, ok := m.StateID(key)
	if !ok {
		m.log.Warn().Str("user_id", conn.UserID()).Str("state", key).Msg("state not loaded; skipping state write")
		return
	}
	m.writer.enqueue(stateUpdate{userID: conn.UserID(), stateID: stateID, key: key})
}
