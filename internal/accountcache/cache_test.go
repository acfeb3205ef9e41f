package accountcache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vn.io.arda/identity/internal/domain"
)

func countingLookup(p *domain.Principal, calls *atomic.Int32) func(context.Context) *domain.Principal {
	return func(context.Context) *domain.Principal {
		calls.Add(1)
		return p.Clone()
	}
}

func TestResolve_SecondCallIsServedFromCache(t *testing.T) {
	c := New(10, time.Minute, nil)
	var calls atomic.Int32
	lookup := countingLookup(&domain.Principal{Login: "alice", Roles: []string{"ROLE_a"}}, &calls)

	first := c.Resolve(context.Background(), "tok", lookup)
	second := c.Resolve(context.Background(), "tok", lookup)

	require.NotNil(t, first)
	assert.True(t, first.Equal(second))
	assert.Equal(t, int32(1), calls.Load())
}

func TestResolve_CancelledCallerDoesNotFailSharedLookup(t *testing.T) {
	c := New(10, time.Minute, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var seen error
	p := c.Resolve(ctx, "tok", func(ctx context.Context) *domain.Principal {
		seen = ctx.Err()
		if seen != nil {
			return nil
		}
		return &domain.Principal{Login: "alice"}
	})

	require.NoError(t, seen)
	require.NotNil(t, p)
	assert.Equal(t, "alice", p.Login)
	cached, ok := c.Get("tok")
	require.True(t, ok)
	assert.Equal(t, "alice", cached.Login)
}

func TestResolve_NilIsNeverCached(t *testing.T) {
	c := New(10, time.Minute, nil)
	var calls atomic.Int32
	valid := false
	lookup := func(context.Context) *domain.Principal {
		calls.Add(1)
		if !valid {
			return nil
		}
		return &domain.Principal{Login: "bob"}
	}

	assert.Nil(t, c.Resolve(context.Background(), "tok", lookup))
	valid = true
	p := c.Resolve(context.Background(), "tok", lookup)

	require.NotNil(t, p)
	assert.Equal(t, "bob", p.Login)
	assert.Equal(t, int32(2), calls.Load())
}

func TestResolve_EmptyTokenSkipsLookup(t *testing.T) {
	c := New(10, time.Minute, nil)
	var calls atomic.Int32

	assert.Nil(t, c.Resolve(context.Background(), "", countingLookup(&domain.Principal{Login: "x"}, &calls)))
	assert.Zero(t, calls.Load())
}

func TestEvict_ForcesRemoteLookup(t *testing.T) {
	c := New(10, time.Minute, nil)
	var calls atomic.Int32
	lookup := countingLookup(&domain.Principal{Login: "alice"}, &calls)

	c.Resolve(context.Background(), "tok", lookup)
	c.Evict("tok")
	_, ok := c.Get("tok")
	assert.False(t, ok)

	c.Resolve(context.Background(), "tok", lookup)
	assert.Equal(t, int32(2), calls.Load())
}

func TestEvict_InFlightLookupDoesNotRepopulate(t *testing.T) {
	c := New(10, time.Minute, nil)
	started := make(chan struct{})
	release := make(chan struct{})
	lookup := func(context.Context) *domain.Principal {
		close(started)
		<-release
		return &domain.Principal{Login: "alice"}
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.Resolve(context.Background(), "tok", lookup)
	}()

	<-started
	c.Evict("tok")
	close(release)
	wg.Wait()

	_, ok := c.Get("tok")
	assert.False(t, ok, "a lookup racing an eviction must not be cached")
}

func TestEvictLogin_RemovesEveryTokenOfUser(t *testing.T) {
	c := New(10, time.Minute, nil)
	ctx := context.Background()
	c.Resolve(ctx, "t1", func(context.Context) *domain.Principal { return &domain.Principal{Login: "alice"} })
	c.Resolve(ctx, "t2", func(context.Context) *domain.Principal { return &domain.Principal{Login: "alice"} })
	c.Resolve(ctx, "t3", func(context.Context) *domain.Principal { return &domain.Principal{Login: "bob"} })

	assert.Equal(t, 2, c.EvictLogin("alice"))
	assert.Equal(t, 1, c.Len())
	_, ok := c.Get("t3")
	assert.True(t, ok)
}

func TestPurge(t *testing.T) {
	c := New(10, time.Minute, nil)
	c.Resolve(context.Background(), "t1", func(context.Context) *domain.Principal { return &domain.Principal{Login: "a"} })

	c.Purge()

	assert.Zero(t, c.Len())
}

func TestEntriesExpire(t *testing.T) {
	c := New(10, 30*time.Millisecond, nil)
	c.Resolve(context.Background(), "tok", func(context.Context) *domain.Principal { return &domain.Principal{Login: "a"} })

	time.Sleep(80 * time.Millisecond)

	_, ok := c.Get("tok")
	assert.False(t, ok)
}

func TestCapacityBound(t *testing.T) {
	c := New(2, time.Minute, nil)
	for _, tok := range []string{"a", "b", "c"} {
		c.Resolve(context.Background(), tok, func(context.Context) *domain.Principal { return &domain.Principal{Login: tok} })
	}

	assert.Equal(t, 2, c.Len())
	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestReturnedPrincipalIsACopy(t *testing.T) {
	c := New(10, time.Minute, nil)
	p := c.Resolve(context.Background(), "tok", func(context.Context) *domain.Principal {
		return &domain.Principal{Login: "alice", Email: "a@example.org", Roles: []string{"ROLE_x"}}
	})
	p.Roles[0] = "ROLE_mutated"
	p.Email = ""

	cached, ok := c.Get("tok")
	require.True(t, ok)
	assert.Equal(t, []string{"ROLE_x"}, cached.Roles)
	assert.Equal(t, "a@example.org", cached.Email)
}
