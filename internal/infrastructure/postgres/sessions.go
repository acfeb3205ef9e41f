package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"vn.io.arda/identity/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS identity_sessions (
	id         UUID PRIMARY KEY,
	token      TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS identity_sessions_expires_at_idx ON identity_sessions (expires_at);
`

// db is the subset of *pgxpool.Pool the store uses.
type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ db = (*pgxpool.Pool)(nil)

// SessionStore is the PostgreSQL implementation of domain.SessionStore.
type SessionStore struct {
	pool db
	now  func() time.Time
}

// New creates a new postgres SessionStore.
func New(pool *pgxpool.Pool) *SessionStore {
	return &SessionStore{pool: pool, now: time.Now}
}

// EnsureSchema creates the sessions table when it does not exist yet.
func (s *SessionStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create sessions table: %w", err)
	}
	return nil
}

// Create inserts a new session row and returns its id.
func (s *SessionStore) Create(ctx context.Context, token string, ttl time.Duration) (string, error) {
	id := uuid.New()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO identity_sessions (id, token, expires_at)
		VALUES ($1, $2, $3)
	`, id, token, s.now().Add(ttl))
	if err != nil {
		return "", fmt.Errorf("insert session: %w", err)
	}
	return id.String(), nil
}

// Token returns the token of a live session.
func (s *SessionStore) Token(ctx context.Context, id string) (string, error) {
	sid, err := uuid.Parse(id)
	if err != nil {
		return "", domain.ErrSessionNotFound
	}

	var token string
	err = s.pool.QueryRow(ctx, `
		SELECT token FROM identity_sessions WHERE id = $1 AND expires_at > $2
	`, sid, s.now()).Scan(&token)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", domain.ErrSessionNotFound
		}
		return "", fmt.Errorf("get session: %w", err)
	}
	return token, nil
}

// Delete removes a session. Unknown ids are ignored.
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	sid, err := uuid.Parse(id)
	if err != nil {
		return nil
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM identity_sessions WHERE id = $1`, sid); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// PurgeExpired deletes sessions past their expiry.
func (s *SessionStore) PurgeExpired(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM identity_sessions WHERE expires_at <= $1`, s.now())
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}
