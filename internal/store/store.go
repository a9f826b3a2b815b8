// Package store is the boundary to the external durable store holding users,
// rooms, tokens and presence states. The notification server only reads
// records, writes presence state and deletes stale tokens.
package store

import (
	"context"
	"errors"

	"github.com/Tyrowin/notifyws/internal/domain"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// Store is the full set of operations the server needs.
type Store interface {
	FindTokenByValue(ctx context.Context, value string) (domain.Token, error)
	FindToken(ctx context.Context, id string) (domain.Token, error)
	DeleteToken(ctx context.Context, id string) error
	FindUser(ctx context.Context, id string) (domain.User, error)
	UpdateUserState(ctx context.Context, userID, stateID string) error
	ListStates(ctx context.Context) ([]domain.State, error)
	Close()
}
