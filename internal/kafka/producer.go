package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/twmb/franz-go/pkg/kgo"

	"vn.io.arda/identity/internal/domain"
)

// recordSink is the part of *kgo.Client the producer needs.
type recordSink interface {
	Produce(ctx context.Context, r *kgo.Record, promise func(*kgo.Record, error))
}

// Producer publishes identity events and cache commands. Produce is asynchronous; failures
// are logged from the delivery callback.
type Producer struct {
	client        *kgo.Client
	sink          recordSink
	eventsTopic   string
	commandsTopic string
	tenantKey     string
}

var (
	_ domain.EventPublisher        = (*Producer)(nil)
	_ domain.CacheCommandPublisher = (*Producer)(nil)
)

func NewProducer(brokers []string, eventsTopic, commandsTopic, tenantKey string) (*Producer, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ClientID("identity-service"),
		kgo.ProducerLinger(10*time.Millisecond),
	)
	if err != nil {
		return nil, err
	}
	p := newProducer(client, eventsTopic, commandsTopic, tenantKey)
	p.client = client
	return p, nil
}

func newProducer(sink recordSink, eventsTopic, commandsTopic, tenantKey string) *Producer {
	return &Producer{sink: sink, eventsTopic: eventsTopic, commandsTopic: commandsTopic, tenantKey: tenantKey}
}

type eventPayload struct {
	UserID string `json:"userId,omitempty"`
	Login  string `json:"login"`
	IP     string `json:"ip,omitempty"`
	Detail string `json:"detail,omitempty"`
}

type cacheCommandMessage struct {
	CommandID string `json:"commandId"`
	Action    string `json:"action"`
	Login     string `json:"login,omitempty"`
}

func (p *Producer) encodeEvent(e domain.IdentityEvent) ([]byte, error) {
	payload, err := json.Marshal(eventPayload{UserID: e.UserID, Login: e.Login, IP: e.IP, Detail: e.Detail})
	if err != nil {
		return nil, err
	}
	return json.Marshal(EventEnvelope{
		EventType: string(e.Type),
		EventID:   uuid.NewString(),
		TenantKey: p.tenantKey,
		Payload:   payload,
	})
}

// Publish sends an identity event keyed by login so a user's events stay ordered.
func (p *Producer) Publish(ctx context.Context, e domain.IdentityEvent) {
	value, err := p.encodeEvent(e)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(e.Type)).Msg("failed to encode identity event")
		return
	}
	p.produce(ctx, &kgo.Record{Topic: p.eventsTopic, Key: []byte(e.Login), Value: value})
}

func (p *Producer) PublishCacheCommand(ctx context.Context, cmd domain.CacheCommand) {
	value, err := json.Marshal(cacheCommandMessage{
		CommandID: uuid.NewString(),
		Action:    string(cmd.Action),
		Login:     cmd.Login,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to encode cache command")
		return
	}
	p.produce(ctx, &kgo.Record{Topic: p.commandsTopic, Key: []byte(cmd.Login), Value: value})
}

func (p *Producer) produce(ctx context.Context, r *kgo.Record) {
	// Delivery outlives the request that triggered it.
	ctx = context.WithoutCancel(ctx)
	p.sink.Produce(ctx, r, func(r *kgo.Record, err error) {
		if err != nil {
			log.Error().Err(err).Str("topic", r.Topic).Msg("kafka produce failed")
			return
		}
		log.Debug().Str("topic", r.Topic).Int32("partition", r.Partition).Int64("offset", r.Offset).Msg("kafka record produced")
	})
}

// Close flushes pending records.
func (p *Producer) Close(ctx context.Context) {
	if p.client == nil {
		return
	}
	if err := p.client.Flush(ctx); err != nil {
		log.Error().Err(err).Msg("kafka flush error")
	}
	p.client.Close()
}

// Noop is used when Kafka is disabled.
type Noop struct{}

func (Noop) Publish(context.Context, domain.IdentityEvent) {}
func (Noop) PublishCacheCommand(context.Context, domain.CacheCommand) {}
