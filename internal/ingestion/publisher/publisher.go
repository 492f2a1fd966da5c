// Package publisher announces document lifecycle events on the bus. One
// producer per topic sits behind a shared circuit breaker so a dead broker
// fails publishes fast instead of stalling every saga on write timeouts.
package publisher

import (
	"context"
	"errors"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/internal/document"
	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/pkg/resilience"
)

// Producer writes events to one topic.
type Producer interface {
	Publish(ctx context.Context, events ...kafka.Event) error
	Topic() string
	Close() error
}

type Publisher struct {
	uploaded  Producer
	processed Producer
	failed    Producer
	breaker   *resilience.CircuitBreaker
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// New builds a Publisher over one producer per event type. m may be nil.
func New(uploaded, processed, failed Producer, m *metrics.Metrics) *Publisher {
	breaker := resilience.NewCircuitBreaker("event-bus", resilience.CircuitBreakerConfig{
		OnStateChange: func(name string, state resilience.State) {
			m.SetCircuitState(name, int(state))
		},
	})
	return &Publisher{
		uploaded:  uploaded,
		processed: processed,
		failed:    failed,
		breaker:   breaker,
		metrics:   m,
		logger:    slog.Default().With("component", "publisher"),
	}
}

// NewKafka creates producers for the configured topics.
func NewKafka(cfg config.KafkaConfig, m *metrics.Metrics) *Publisher {
	return New(
		kafka.NewProducer(cfg, cfg.Topics.DocumentUploaded),
		kafka.NewProducer(cfg, cfg.Topics.DocumentProcessed),
		kafka.NewProducer(cfg, cfg.Topics.DocumentFailed),
		m,
	)
}

func (p *Publisher) PublishUploaded(ctx context.Context, ev document.UploadedEvent) error {
	return p.publish(ctx, p.uploaded, ev.DocumentID, ev)
}

// PublishUploadedBatch announces many uploads in one write, for bulk
// reprocessing.
func (p *Publisher) PublishUploadedBatch(ctx context.Context, events []document.UploadedEvent) error {
	if len(events) == 0 {
		return nil
	}
	batch := make([]kafka.Event, 0, len(events))
	for _, ev := range events {
		batch = append(batch, kafka.Event{Key: document.EventKey(ev.DocumentID), Value: ev})
	}
	err := p.breaker.Execute(ctx, func(ctx context.Context) error {
		return p.uploaded.Publish(ctx, batch...)
	})
	p.metrics.ObservePublish(p.uploaded.Topic(), err)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrBus, err, "publishing upload batch")
	}
	return nil
}

func (p *Publisher) PublishProcessed(ctx context.Context, ev document.ProcessedEvent) error {
	return p.publish(ctx, p.processed, ev.DocumentID, ev)
}

func (p *Publisher) PublishFailed(ctx context.Context, ev document.FailedEvent) error {
	return p.publish(ctx, p.failed, ev.DocumentID, ev)
}

func (p *Publisher) publish(ctx context.Context, producer Producer, id int64, value any) error {
	err := p.breaker.Execute(ctx, func(ctx context.Context) error {
		return producer.Publish(ctx, kafka.Event{Key: document.EventKey(id), Value: value})
	})
	p.metrics.ObservePublish(producer.Topic(), err)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrBus, err, "publishing to "+producer.Topic())
	}
	p.logger.Debug("event published", "topic", producer.Topic(), "document_id", id)
	return nil
}

// Close flushes and closes every producer.
func (p *Publisher) Close() error {
	return errors.Join(p.uploaded.Close(), p.processed.Close(), p.failed.Close())
}
