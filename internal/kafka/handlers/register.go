package handlers

import (
	"vn.io.arda/identity/internal/kafka/registry"
)

// Logical stream names. The consumer maps the configured topic names onto them.
const (
	StreamEvents   = "identity-events"
	StreamCommands = "identity-cache-commands"
)

// Register is a convenience alias so each handler file calls Register(...)
// instead of registry.Register(...), keeping imports minimal.
func Register(stream, eventType string, h registry.EventHandler) {
	registry.Register(stream, eventType, h)
}

// RegisterDirect registers a handler for streams that don't use eventType routing.
func RegisterDirect(stream string, h registry.EventHandler) {
	registry.Register(stream, "", h)
}
