// Package domain defines the records the notification server reads from the
// external store and the event bus. The server never mutates them.
package domain

import "time"

// Store resource types, used when addressing the external store.
const (
	ResourceUsers    = "USERS"
	ResourceRooms    = "ROOMS"
	ResourceMessages = "MESSAGES"
	ResourceStates   = "STATES"
	ResourceTokens   = "TOKENS"
)

// Wire types used in serialized payloads.
const (
	TypeUser    = "user"
	TypeRoom    = "room"
	TypeMessage = "message"
	TypeState   = "state"
)

// User is the owner of a session token.
type User struct {
	ID       string
	Username string
	Image    string
	Bot      bool
	State    string
	Rooms    []string
}

// Token is a session credential scoped to one user.
type Token struct {
	ID        string
	Value     string
	UserID    string
	Origin    string
	CreatedAt time.Time
}

// Age returns how long ago the token was issued.
func (t Token) Age(now time.Time) time.Duration {
	return now.Sub(t.CreatedAt)
}

// State is a presence state record (Online, Offline, Away).
type State struct {
	ID   string
	Name string
}

// Presence state keys cached at startup.
const (
	StateOnline  = "online"
	StateOffline = "offline"
	StateAway    = "away"
)

// StateKey maps a state record name to its cache key. The second return value
// is false for names the server does not know about.
func StateKey(name string) (string, bool) {
	switch name {
	case "Online":
		return StateOnline, true
	case "Offline":
		return StateOffline, true
	case "Away":
		return StateAway, true
	default:
		return "", false
	}
}
