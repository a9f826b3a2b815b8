package store

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/notifyws/internal/domain"
)

func TestMemoryStoreTokens(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(zerolog.Nop())

	s.PutToken(domain.Token{ID: "t1", Value: "secret", UserID: "u1", CreatedAt: time.Now()})

	byValue, err := s.FindTokenByValue(ctx, "secret")
	require.NoError(t, err)
	assert.Equal(t, "t1", byValue.ID)

	byID, err := s.FindToken(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "u1", byID.UserID)

	require.NoError(t, s.DeleteToken(ctx, "t1"))
	_, err = s.FindTokenByValue(ctx, "secret")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DeleteToken(ctx, "t1"), ErrNotFound)
}

func TestMemoryStoreReplacingTokenDropsOldValue(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(zerolog.Nop())

	s.PutToken(domain.Token{ID: "t1", Value: "old"})
	s.PutToken(domain.Token{ID: "t1", Value: "new"})

	_, err := s.FindTokenByValue(ctx, "old")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.FindTokenByValue(ctx, "new")
	assert.NoError(t, err)
}

func TestMemoryStoreUsersAndStates(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(zerolog.Nop())

	s.PutUser(domain.User{ID: "u1", Username: "ana", Rooms: []string{"r1"}})
	s.PutStates(domain.State{ID: "s1", Name: "Online"})

	require.NoError(t, s.UpdateUserState(ctx, "u1", "s1"))
	user, err := s.FindUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "s1", user.State)

	user.Rooms[0] = "mutated"
	again, err := s.FindUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"r1"}, again.Rooms)

	assert.ErrorIs(t, s.UpdateUserState(ctx, "nobody", "s1"), ErrNotFound)

	states, err := s.ListStates(ctx)
	require.NoError(t, err)
	assert.Len(t, states, 1)
}
