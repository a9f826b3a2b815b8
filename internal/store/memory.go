package store

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/notifyws/internal/domain"
)

// MemoryStore is a mutex-based in-memory store used for local development and
// as the external store in tests.
type MemoryStore struct {
	mu         sync.RWMutex
	users      map[string]domain.User
	tokens     map[string]domain.Token
	tokenIndex map[string]string // token value -> token ID
	states     []domain.State
	log        zerolog.Logger
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(log zerolog.Logger) *MemoryStore {
	return &MemoryStore{
		users:      make(map[string]domain.User),
		tokens:     make(map[string]domain.Token),
		tokenIndex: make(map[string]string),
		log:        log.With().Str("component", "memory-store").Logger(),
	}
}

// PutUser inserts or replaces a user.
func (s *MemoryStore) PutUser(user domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user.Rooms = append([]string(nil), user.Rooms...)
	s.users[user.ID] = user
}

// PutToken inserts or replaces a token.
func (s *MemoryStore) PutToken(token domain.Token) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.tokens[token.ID]; ok {
		delete(s.tokenIndex, prev.Value)
	}
	s.tokens[token.ID] = token
	s.tokenIndex[token.Value] = token.ID
}

// PutStates replaces the presence state records.
func (s *MemoryStore) PutStates(states ...domain.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append([]domain.State(nil), states...)
}

// FindTokenByValue looks a token up by its secret value.
func (s *MemoryStore) FindTokenByValue(_ context.Context, value string) (domain.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.tokenIndex[value]
	if !ok {
		return domain.Token{}, ErrNotFound
	}
	return s.tokens[id], nil
}

// FindToken looks a token up by ID.
func (s *MemoryStore) FindToken(_ context.Context, id string) (domain.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	token, ok := s.tokens[id]
	if !ok {
		return domain.Token{}, ErrNotFound
	}
	return token, nil
}

// DeleteToken removes a token by ID.
func (s *MemoryStore) DeleteToken(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.tokens[id]
	if !ok {
		return ErrNotFound
	}
	delete(s.tokenIndex, token.Value)
	delete(s.tokens, id)
	return nil
}

// FindUser looks a user up by ID.
func (s *MemoryStore) FindUser(_ context.Context, id string) (domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return domain.User{}, ErrNotFound
	}
	user.Rooms = append([]string(nil), user.Rooms...)
	return user, nil
}

// UpdateUserState sets the presence state of a user.
func (s *MemoryStore) UpdateUserState(_ context.Context, userID, stateID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	user.State = stateID
	s.users[userID] = user
	s.log.Debug().Str("user_id", userID).Str("state", stateID).Msg("user state updated")
	return nil
}

// ListStates returns every presence state record.
func (s *MemoryStore) ListStates(_ context.Context) ([]domain.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.State(nil), s.states...), nil
}

// Close is a no-op.
func (s *MemoryStore) Close() {}
