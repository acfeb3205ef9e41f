// Package accountcache memoizes token → principal lookups for every identity backend.
//
// Only successful lookups are stored. Eviction happens-before the evicting call returns:
// a lookup that started before any eviction is not allowed to store its result afterwards.
package accountcache

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"vn.io.arda/identity/internal/domain"
	"vn.io.arda/identity/internal/metrics"
)

const (
	DefaultCapacity = 10_000
	DefaultTTL      = 5 * time.Minute
)

// Cache is safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	entries *expirable.LRU[string, *domain.Principal]
	// epoch is bumped by every eviction. Stores computed under an older epoch are dropped.
	epoch uint64

	flight  singleflight.Group
	metrics *metrics.Metrics
}

// New builds a cache bounded by capacity entries, each living at most ttl.
func New(capacity int, ttl time.Duration, m *metrics.Metrics) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	onEvict := func(_ string, p *domain.Principal) {
		log.Trace().Str("event", "removed").Str("login", p.Login).Msg("account cache")
	}
	return &Cache{
		entries: expirable.NewLRU[string, *domain.Principal](capacity, onEvict, ttl),
		metrics: m,
	}
}

// Get returns a copy of the cached principal for token.
func (c *Cache) Get(token string) (*domain.Principal, bool) {
	p, ok := c.entries.Get(token)
	c.metrics.CacheLookup(ok)
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

// Resolve returns the cached principal for token or runs lookup once, even when several
// goroutines miss on the same token concurrently. A nil result is never cached. The lookup
// is shared by every waiter, so it keeps ctx values but not its cancellation.
func (c *Cache) Resolve(ctx context.Context, token string, lookup func(context.Context) *domain.Principal) *domain.Principal {
	if token == "" {
		return nil
	}
	if p, ok := c.Get(token); ok {
		return p
	}

	v, _, _ := c.flight.Do(token, func() (any, error) {
		since := c.snapshot()
		p := lookup(context.WithoutCancel(ctx))
		if p != nil {
			c.store(token, p, since)
		}
		return p, nil
	})
	p, _ := v.(*domain.Principal)
	return p.Clone()
}

// Evict drops the entry for token. Lookups already in flight for token will not repopulate it.
func (c *Cache) Evict(token string) {
	if token == "" {
		return
	}
	c.mu.Lock()
	c.epoch++
	c.entries.Remove(token)
	c.mu.Unlock()

	c.flight.Forget(token)
	c.metrics.CacheEviction("token")
}

// EvictLogin drops every entry whose principal has the given login.
func (c *Cache) EvictLogin(login string) int {
	if login == "" {
		return 0
	}
	c.mu.Lock()
	c.epoch++
	var tokens []string
	for _, token := range c.entries.Keys() {
		if p, ok := c.entries.Peek(token); ok && p.Login == login {
			c.entries.Remove(token)
			tokens = append(tokens, token)
		}
	}
	c.mu.Unlock()

	for _, token := range tokens {
		c.flight.Forget(token)
	}
	c.metrics.CacheEviction("login")
	return len(tokens)
}

// Purge empties the cache.
func (c *Cache) Purge() {
	c.mu.Lock()
	c.epoch++
	c.entries.Purge()
	c.mu.Unlock()

	c.metrics.CacheEviction("purge")
	log.Info().Msg("account cache cleared")
}

// Len reports the number of live entries.
func (c *Cache) Len() int {
	return c.entries.Len()
}

func (c *Cache) snapshot() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

// store keeps p unless an eviction happened after since. Dropping a store on an unrelated
// eviction only costs one extra remote lookup.
func (c *Cache) store(token string, p *domain.Principal, since uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != since {
		log.Trace().Str("login", p.Login).Msg("account cache: eviction raced lookup, not storing")
		return
	}
	c.entries.Add(token, p.Clone())
	c.metrics.CacheStore()
	log.Trace().Str("event", "created").Str("login", p.Login).Msg("account cache")
}
