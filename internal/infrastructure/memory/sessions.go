// Package memory keeps sessions in process. Sessions do not survive a restart and are not
// shared between instances.
package memory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"vn.io.arda/identity/internal/domain"
)

const DefaultCapacity = 100_000

type entry struct {
	token   string
	expires time.Time
}

// SessionStore is bounded by capacity; the least recently used session is dropped first.
type SessionStore struct {
	entries *expirable.LRU[string, entry]
	now     func() time.Time
}

// New builds a store whose entries never outlive maxTTL, whatever the ttl passed to Create.
func New(capacity int, maxTTL time.Duration) *SessionStore {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &SessionStore{
		entries: expirable.NewLRU[string, entry](capacity, nil, maxTTL),
		now:     time.Now,
	}
}

func (s *SessionStore) Create(_ context.Context, token string, ttl time.Duration) (string, error) {
	id := uuid.NewString()
	s.entries.Add(id, entry{token: token, expires: s.now().Add(ttl)})
	return id, nil
}

func (s *SessionStore) Token(_ context.Context, id string) (string, error) {
	e, ok := s.entries.Get(id)
	if !ok {
		return "", domain.ErrSessionNotFound
	}
	if !s.now().Before(e.expires) {
		s.entries.Remove(id)
		return "", domain.ErrSessionNotFound
	}
	return e.token, nil
}

func (s *SessionStore) Delete(_ context.Context, id string) error {
	s.entries.Remove(id)
	return nil
}

func (s *SessionStore) Len() int {
	return s.entries.Len()
}
