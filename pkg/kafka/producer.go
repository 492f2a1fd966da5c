package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/pkg/config"
)

const contentTypeJSON = "application/json"

// Event is one message to publish. Key picks the partition, so events that
// share a key (a document id) stay in order. Value is encoded as JSON.
type Event struct {
	Key   string
	Value any
}

// Producer writes JSON events to a single topic. Writes are synchronous and
// acknowledged by every in-sync replica.
type Producer struct {
	writer *kafka.Writer
	logger *slog.Logger
}

func NewProducer(cfg config.KafkaConfig, topic string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			BatchTimeout:           5 * time.Millisecond,
			MaxAttempts:            3,
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		},
		logger: slog.Default().With("component", "kafka-producer", "topic", topic),
	}
}

func (p *Producer) Topic() string { return p.writer.Topic }

// Publish encodes events and writes them in one call. Either every event is
// accepted or an error is returned; Kafka may still have stored a prefix.
func (p *Producer) Publish(ctx context.Context, events ...Event) error {
	if len(events) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, len(events))
	for i, ev := range events {
		msg, err := encode(ev)
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		p.logger.Error("publish failed", "messages", len(msgs), "first_key", events[0].Key, "error", err)
		return fmt.Errorf("writing %d messages to %s: %w", len(msgs), p.writer.Topic, err)
	}
	p.logger.Debug("published", "messages", len(msgs), "first_key", events[0].Key)
	return nil
}

func encode(ev Event) (kafka.Message, error) {
	value, err := json.Marshal(ev.Value)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encoding event %s: %w", ev.Key, err)
	}
	return kafka.Message{
		Key:     []byte(ev.Key),
		Value:   value,
		Headers: []kafka.Header{{Key: "content-type", Value: []byte(contentTypeJSON)}},
	}, nil
}

// Close flushes buffered messages and releases broker connections.
func (p *Producer) Close() error {
	return p.writer.Close()
}
