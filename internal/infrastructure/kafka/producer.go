// Package kafka publishes payment lifecycle events to Kafka.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/cassiomorais/pos-payments/internal/domain/outbox"
)

// Producer sends each event synchronously, keyed by aggregate ID so every
// event of one payment lands on the same partition in order.
type Producer struct {
	producer sarama.SyncProducer
	topic    string
	dlqTopic string
}

// NewSyncProducer connects to the brokers with acks from all in-sync
// replicas.
func NewSyncProducer(brokers []string, clientID string) (sarama.SyncProducer, error) {
	cfg := sarama.NewConfig()
	cfg.ClientID = clientID
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Idempotent = true
	cfg.Producer.Retry.Max = 5
	cfg.Net.MaxOpenRequests = 1
	cfg.Version = sarama.V3_4_0_0

	p, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return p, nil
}

func NewProducer(p sarama.SyncProducer, topic string) *Producer {
	return &Producer{producer: p, topic: topic, dlqTopic: topic + ".dlq"}
}

func (p *Producer) Destination() string { return p.topic }

func (p *Producer) Publish(ctx context.Context, env outbox.Envelope) error {
	return p.send(ctx, p.topic, env, nil)
}

func (p *Producer) DeadLetter(ctx context.Context, env outbox.Envelope, reason string) error {
	return p.send(ctx, p.dlqTopic, env, []sarama.RecordHeader{
		{Key: []byte("dlq_reason"), Value: []byte(reason)},
	})
}

func (p *Producer) send(ctx context.Context, topic string, env outbox.Envelope, headers []sarama.RecordHeader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", env.EventType, err)
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(env.AggregateID.String()),
		Value: sarama.ByteEncoder(data),
		Headers: append([]sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(env.EventType)},
			{Key: []byte("event_id"), Value: []byte(env.EventID.String())},
		}, headers...),
	}

	if _, _, err := p.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("failed to send %s to %s: %w", env.EventType, topic, err)
	}
	return nil
}

func (p *Producer) Close() error {
	return p.producer.Close()
}
