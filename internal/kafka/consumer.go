package kafka

import (
	"context"
	"encoding/json"
	"os"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/twmb/franz-go/pkg/kgo"

	"vn.io.arda/identity/internal/domain"
	"vn.io.arda/identity/internal/kafka/handlers"
	"vn.io.arda/identity/internal/kafka/registry"
)

// CommandApplier executes cache commands received from peers.
type CommandApplier interface {
	ApplyCacheCommand(ctx context.Context, cmd domain.CacheCommand)
}

// Consumer wraps the franz-go Kafka client.
type Consumer struct {
	client  *kgo.Client
	applier CommandApplier
	// streams maps a configured topic name to the logical stream handlers register on.
	streams map[string]string
}

// NewConsumer subscribes to the identity events topic and the cache command topic. Every
// process joins its own group derived from groupPrefix, so each record reaches every instance.
// A new group starts at the end of the topics.
func NewConsumer(brokers []string, groupPrefix, eventsTopic, commandsTopic string, applier CommandApplier) (*Consumer, error) {
	host, _ := os.Hostname()
	groupID := instanceGroupID(groupPrefix, host)
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(groupID),
		kgo.ConsumeTopics(eventsTopic, commandsTopic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()),
		kgo.DisableAutoCommit(),
	)
	if err != nil {
		return nil, err
	}
	log.Info().Str("group", groupID).Msg("kafka consumer group")
	return &Consumer{
		client:  client,
		applier: applier,
		streams: streamsFor(eventsTopic, commandsTopic),
	}, nil
}

// instanceGroupID is unique per call: prefix, host when known, and a random suffix.
func instanceGroupID(prefix, host string) string {
	id := prefix
	if host != "" {
		id += "-" + host
	}
	return id + "-" + uuid.NewString()
}

func streamsFor(eventsTopic, commandsTopic string) map[string]string {
	return map[string]string{
		eventsTopic:   handlers.StreamEvents,
		commandsTopic: handlers.StreamCommands,
	}
}

// Start begins polling Kafka and processing records. Blocks until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) {
	log.Info().Msg("kafka consumer started")

	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			break
		}

		fetches.EachError(func(topic string, partition int32, err error) {
			log.Error().Err(err).Str("topic", topic).Int32("partition", partition).Msg("kafka fetch error")
		})

		fetches.EachRecord(func(r *kgo.Record) {
			c.process(ctx, r)
		})

		if err := c.client.CommitUncommittedOffsets(ctx); err != nil {
			log.Error().Err(err).Msg("kafka commit error")
		}
	}

	c.client.Close()
	log.Info().Msg("kafka consumer stopped")
}

// process dispatches a Kafka record to the registered handler via the registry,
// then applies the resulting cache command.
func (c *Consumer) process(ctx context.Context, r *kgo.Record) {
	log.Debug().
		Str("topic", r.Topic).
		Str("key", string(r.Key)).
		Msg("processing kafka record")

	stream, ok := c.streams[r.Topic]
	if !ok {
		log.Debug().Str("topic", r.Topic).Msg("unknown topic, skipping")
		return
	}

	// the command stream doesn't use eventType routing
	cmd := registry.DispatchDirect(stream, r.Value)
	if cmd == nil {
		cmd = registry.Dispatch(stream, r.Value)
	}
	if cmd == nil {
		log.Debug().Str("topic", r.Topic).Msg("no handler matched, skipping")
		return
	}

	log.Info().Str("action", string(cmd.Action)).Str("login", cmd.Login).Msg("applying cache command from kafka")
	c.applier.ApplyCacheCommand(ctx, *cmd)
}

// --- Shared event envelope ---

// EventEnvelope is the common wrapper used by all arda services for Kafka messages.
type EventEnvelope struct {
	EventType string          `json:"eventType"`
	EventID   string          `json:"eventId"`
	TenantKey string          `json:"tenantKey"`
	Payload   json.RawMessage `json:"payload"`
}

// ParseEnvelope decodes the common event envelope.
func ParseEnvelope(data []byte) (*EventEnvelope, error) {
	var env EventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return &env, nil
}
