package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/notifyws/internal/domain"
)

// PostgresStore reads and writes the external store through a pgx pool.
//
// Expected tables:
//
//	users(id, username, image, bot, state_id)
//	user_rooms(user_id, room_id)
//	tokens(id, token, user_id, origin, created_at)
//	states(id, name)
type PostgresStore struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects to databaseURL and verifies the connection.
func NewPostgresStore(ctx context.Context, databaseURL string, log zerolog.Logger) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &PostgresStore{
		db:  pool,
		log: log.With().Str("component", "postgres-store").Logger(),
	}, nil
}

const tokenColumns = `id, token, user_id, COALESCE(origin, ''), created_at`

func scanToken(row pgx.Row) (domain.Token, error) {
	var t domain.Token
	if err := row.Scan(&t.ID, &t.Value, &t.UserID, &t.Origin, &t.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Token{}, ErrNotFound
		}
		return domain.Token{}, err
	}
	return t, nil
}

// FindTokenByValue looks a token up by its secret value.
func (s *PostgresStore) FindTokenByValue(ctx context.Context, value string) (domain.Token, error) {
	row := s.db.QueryRow(ctx, `SELECT `+tokenColumns+` FROM tokens WHERE token = $1 LIMIT 1`, value)
	token, err := scanToken(row)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return domain.Token{}, fmt.Errorf("query token by value: %w", err)
	}
	return token, err
}

// FindToken looks a token up by ID.
func (s *PostgresStore) FindToken(ctx context.Context, id string) (domain.Token, error) {
	row := s.db.QueryRow(ctx, `SELECT `+tokenColumns+` FROM tokens WHERE id = $1`, id)
	token, err := scanToken(row)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return domain.Token{}, fmt.Errorf("query token: %w", err)
	}
	return token, err
}

// DeleteToken removes a token by ID.
func (s *PostgresStore) DeleteToken(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM tokens WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// FindUser loads a user together with the IDs of the rooms it belongs to.
func (s *PostgresStore) FindUser(ctx context.Context, id string) (domain.User, error) {
	var u domain.User
	err := s.db.QueryRow(ctx, `
		SELECT id, username, COALESCE(image, ''), bot, COALESCE(state_id, '')
		FROM users
		WHERE id = $1
	`, id).Scan(&u.ID, &u.Username, &u.Image, &u.Bot, &u.State)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, ErrNotFound
		}
		return domain.User{}, fmt.Errorf("query user: %w", err)
	}

	rows, err := s.db.Query(ctx, `SELECT room_id FROM user_rooms WHERE user_id = $1 ORDER BY room_id`, id)
	if err != nil {
		return domain.User{}, fmt.Errorf("query user rooms: %w", err)
	}
	rooms, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return domain.User{}, fmt.Errorf("scan user rooms: %w", err)
	}
	u.Rooms = rooms
	return u, nil
}

// UpdateUserState sets the presence state of a user.
func (s *PostgresStore) UpdateUserState(ctx context.Context, userID, stateID string) error {
	tag, err := s.db.Exec(ctx, `UPDATE users SET state_id = $2 WHERE id = $1`, userID, stateID)
	if err != nil {
		return fmt.Errorf("update user state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListStates returns every presence state record.
func (s *PostgresStore) ListStates(ctx context.Context) ([]domain.State, error) {
	rows, err := s.db.Query(ctx, `SELECT id, name FROM states`)
	if err != nil {
		return nil, fmt.Errorf("query states: %w", err)
	}
	states, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.State, error) {
		var st domain.State
		err := row.Scan(&st.ID, &st.Name)
		return st, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan states: %w", err)
	}
	return states, nil
}

// Close releases the pool.
func (s *PostgresStore) Close() {
	s.db.Close()
	s.log.Info().Msg("database pool closed")
}
