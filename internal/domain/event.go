package domain

import "context"

// EventType names an identity event published to the event bus.
type EventType string

const (
	EventLogin           EventType = "LOGIN"
	EventLogout          EventType = "LOGOUT"
	EventPasswordChanged EventType = "PASSWORD_CHANGED"
	EventProfileUpdated  EventType = "PROFILE_UPDATED"
)

// IdentityEvent is published after a successful state change.
type IdentityEvent struct {
	Type   EventType
	UserID string
	Login  string
	IP     string
	Detail string
}

// EventPublisher delivers identity events. Publishing is fire-and-forget from the caller's view.
type EventPublisher interface {
	Publish(ctx context.Context, event IdentityEvent)
}

// CacheAction is the instruction carried by a CacheCommand.
type CacheAction string

const (
	// CacheEvictUser drops every cached principal of Login.
	CacheEvictUser CacheAction = "EVICT_USER"
	// CacheClear drops every cached principal.
	CacheClear CacheAction = "CLEAR"
)

// CacheCommand lets instances ask their peers to evict account cache entries.
// Tokens are bearer secrets and are never put on the bus, so eviction is by login.
type CacheCommand struct {
	Action CacheAction
	Login  string
}

// CacheCommandPublisher broadcasts cache commands to peer instances.
type CacheCommandPublisher interface {
	PublishCacheCommand(ctx context.Context, cmd CacheCommand)
}
