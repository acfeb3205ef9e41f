// Package registry provides a lightweight event handler registry for Kafka events.
// Each handler registers itself via init(), so the consumer does not change when a new
// event type starts evicting cache entries.
package registry

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"vn.io.arda/identity/internal/domain"
)

// EventHandler maps raw Kafka message bytes to a cache command.
// Returning nil means "skip this event".
type EventHandler func(data []byte) *domain.CacheCommand

var handlers = map[string]EventHandler{}

// Register binds a handler to a {stream}:{eventType} key.
// Should be called from each handler's init() function.
// Panics on duplicate registration to catch mistakes early.
func Register(stream, eventType string, h EventHandler) {
	key := stream + ":" + eventType
	if _, exists := handlers[key]; exists {
		panic("registry: duplicate handler registered for key: " + key)
	}
	handlers[key] = h
}

// Dispatch looks up and calls the handler for the given stream + eventType.
// The eventType is extracted from the "eventType" JSON field in data.
// Returns nil if no handler found or data cannot be parsed.
func Dispatch(stream string, data []byte) *domain.CacheCommand {
	var envelope struct {
		EventType string `json:"eventType"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		log.Warn().Str("stream", stream).Err(err).Msg("registry: failed to read eventType")
		return nil
	}

	key := stream + ":" + envelope.EventType
	h, ok := handlers[key]
	if !ok {
		log.Debug().Str("key", key).Msg("registry: no handler registered")
		return nil
	}
	return h(data)
}

// DispatchDirect calls the handler registered for a stream without eventType routing.
// Used for the cache command stream where the entire message is the command.
func DispatchDirect(stream string, data []byte) *domain.CacheCommand {
	h, ok := handlers[stream+":"]
	if !ok {
		return nil
	}
	return h(data)
}
