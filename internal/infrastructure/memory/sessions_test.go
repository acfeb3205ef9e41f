package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vn.io.arda/identity/internal/domain"
)

func TestSessionStore_Lifecycle(t *testing.T) {
	s := New(10, time.Hour)
	ctx := context.Background()

	id, err := s.Create(ctx, "access-token", time.Hour)
	require.NoError(t, err)

	token, err := s.Token(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "access-token", token)

	require.NoError(t, s.Delete(ctx, id))
	_, err = s.Token(ctx, id)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	assert.NoError(t, s.Delete(ctx, "unknown"))
}

func TestSessionStore_DistinctIDs(t *testing.T) {
	s := New(10, time.Hour)
	ctx := context.Background()

	a, _ := s.Create(ctx, "same", time.Hour)
	b, _ := s.Create(ctx, "same", time.Hour)

	assert.NotEqual(t, a, b)
	assert.Equal(t, 2, s.Len())
}

func TestSessionStore_PerSessionTTL(t *testing.T) {
	s := New(10, time.Hour)
	now := time.Now()
	s.now = func() time.Time { return now }
	ctx := context.Background()

	short, _ := s.Create(ctx, "short", time.Minute)
	long, _ := s.Create(ctx, "long", 30*time.Minute)
	now = now.Add(2 * time.Minute)

	_, err := s.Token(ctx, short)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	token, err := s.Token(ctx, long)
	require.NoError(t, err)
	assert.Equal(t, "long", token)
	assert.Equal(t, 1, s.Len())
}

func TestSessionStore_MaxTTLCapsEntries(t *testing.T) {
	s := New(10, 30*time.Millisecond)
	ctx := context.Background()

	id, _ := s.Create(ctx, "token", time.Hour)

	assert.Eventually(t, func() bool {
		_, err := s.Token(ctx, id)
		return err != nil
	}, time.Second, 10*time.Millisecond)
}

func TestSessionStore_Capacity(t *testing.T) {
	s := New(2, time.Hour)
	ctx := context.Background()

	first, _ := s.Create(ctx, "1", time.Hour)
	s.Create(ctx, "2", time.Hour)
	s.Create(ctx, "3", time.Hour)

	_, err := s.Token(ctx, first)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	assert.Equal(t, 2, s.Len())
}
