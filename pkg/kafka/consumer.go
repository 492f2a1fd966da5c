// Package kafka provides the pipeline's event-bus clients backed by
// segmentio/kafka-go. The producer serialises events as JSON; a Subscription
// hands messages to its owner one at a time and commits them only when told
// to, so the owner decides when a message counts as handled.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/pkg/config"
)

// Message is one fetched record. raw is kept for committing.
type Message struct {
	Topic     string
	Key       []byte
	Value     []byte
	Partition int
	Offset    int64
	raw       kafka.Message
}

// Subscription is a consumer-group member on a single topic.
type Subscription struct {
	reader *kafka.Reader
	logger *slog.Logger
}

// Subscribe checks that a broker is reachable and joins group on topic.
// Offsets are committed synchronously by Commit; a new group starts from the
// oldest retained message so events published before the first start are
// not skipped.
func Subscribe(ctx context.Context, cfg config.KafkaConfig, topic, group string) (*Subscription, error) {
	if err := Ping(ctx, cfg); err != nil {
		return nil, err
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       topic,
		GroupID:     group,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     time.Second,
		StartOffset: kafka.FirstOffset,
	})
	logger := slog.Default().With("component", "kafka-subscription", "topic", topic, "group", group)
	logger.Info("subscribed")
	return &Subscription{reader: r, logger: logger}, nil
}

// Fetch blocks until a message arrives, ctx is done, or the transport fails.
func (s *Subscription) Fetch(ctx context.Context) (Message, error) {
	msg, err := s.reader.FetchMessage(ctx)
	if err != nil {
		return Message{}, fmt.Errorf("fetching message: %w", err)
	}
	s.logger.Debug("message received",
		"partition", msg.Partition,
		"offset", msg.Offset,
		"key", string(msg.Key),
		"value_size", len(msg.Value),
	)
	return Message{
		Topic:     msg.Topic,
		Key:       msg.Key,
		Value:     msg.Value,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		raw:       msg,
	}, nil
}

// Commit acknowledges msg for the group.
func (s *Subscription) Commit(ctx context.Context, msg Message) error {
	if err := s.reader.CommitMessages(ctx, msg.raw); err != nil {
		s.logger.Error("failed to commit message",
			"partition", msg.Partition,
			"offset", msg.Offset,
			"error", err,
		)
		return fmt.Errorf("committing offset %d: %w", msg.Offset, err)
	}
	return nil
}

// Close leaves the group and releases the reader.
func (s *Subscription) Close() error {
	return s.reader.Close()
}

// Ping dials the configured brokers and succeeds on the first reachable one.
func Ping(ctx context.Context, cfg config.KafkaConfig) error {
	if len(cfg.Brokers) == 0 {
		return errors.New("no kafka brokers configured")
	}
	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	var errs []error
	for _, broker := range cfg.Brokers {
		conn, err := kafka.DialContext(dialCtx, "tcp", broker)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", broker, err))
			continue
		}
		conn.Close()
		return nil
	}
	return fmt.Errorf("no reachable kafka broker: %w", errors.Join(errs...))
}

// DecodeJSON is a generic helper that unmarshals a Kafka message value into T.
func DecodeJSON[T any](value []byte) (T, error) {
	var result T
	if err := json.Unmarshal(value, &result); err != nil {
		return result, fmt.Errorf("decoding kafka message: %w", err)
	}
	return result, nil
}
