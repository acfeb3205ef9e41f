package domain

import (
	"context"
	"errors"
	"time"
)

// ErrSessionNotFound is returned when a session id is unknown or expired.
var ErrSessionNotFound = errors.New("session not found")

// SessionStore maps the short id carried by the session cookie to the backend access token.
// Implementations live in infrastructure/{memory,postgres,redis}.
type SessionStore interface {
	// Create stores token and returns a fresh session id.
	Create(ctx context.Context, token string, ttl time.Duration) (string, error)

	// Token returns the access token for id, or ErrSessionNotFound.
	Token(ctx context.Context, id string) (string, error)

	// Delete removes id. Deleting an unknown id is not an error.
	Delete(ctx context.Context, id string) error
}
