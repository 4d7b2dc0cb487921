package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cassiomorais/pos-payments/internal/domain/outbox"
	"github.com/cassiomorais/pos-payments/pkg/clock"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultEventStream = "payments:events"
	DefaultDLQStream   = "payments:events:dlq"
)

// StreamProducer appends lifecycle events to a Redis stream. Streams are
// trimmed approximately to maxLen entries.
type StreamProducer struct {
	client    *redis.Client
	stream    string
	dlqStream string
	maxLen    int64
	clock     clock.Clock
}

func NewStreamProducer(client *redis.Client, stream, dlqStream string, maxLen int64) *StreamProducer {
	if stream == "" {
		stream = DefaultEventStream
	}
	if dlqStream == "" {
		dlqStream = DefaultDLQStream
	}
	return &StreamProducer{
		client:    client,
		stream:    stream,
		dlqStream: dlqStream,
		maxLen:    maxLen,
		clock:     clock.System{},
	}
}

func (p *StreamProducer) Destination() string { return p.stream }

func (p *StreamProducer) Publish(ctx context.Context, env outbox.Envelope) error {
	values, err := streamValues(env)
	if err != nil {
		return err
	}

	args := &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: p.maxLen > 0,
		Values: values,
	}

	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", env.EventType, err)
	}
	return nil
}

func (p *StreamProducer) DeadLetter(ctx context.Context, env outbox.Envelope, reason string) error {
	values, err := streamValues(env)
	if err != nil {
		return err
	}
	values["reason"] = reason
	values["dead_lettered_at"] = p.clock.Now().UTC().Format(time.RFC3339)

	if err := p.client.XAdd(ctx, &redis.XAddArgs{Stream: p.dlqStream, Values: values}).Err(); err != nil {
		return fmt.Errorf("failed to dead-letter %s event: %w", env.EventType, err)
	}
	return nil
}

func streamValues(env outbox.Envelope) (map[string]any, error) {
	payload, err := json.Marshal(env.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event data: %w", err)
	}
	return map[string]any{
		"event_id":       env.EventID.String(),
		"event_type":     env.EventType,
		"aggregate_type": env.AggregateType,
		"aggregate_id":   env.AggregateID.String(),
		"payload":        string(payload),
		"occurred_at":    env.OccurredAt.UTC().Format(time.RFC3339Nano),
	}, nil
}
