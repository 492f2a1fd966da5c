// Package worker consumes upload events and feeds extracted text back into
// the coordinator. It is a small state machine:
//
//	Idle -> Subscribed -> Processing -> Subscribed ...
//	Subscribed -> Backoff -> Subscribed   (subscribe or fetch failure)
//	any -> ShuttingDown                   (cancellation)
//
// Every fetched message is committed, whatever its outcome. Per-message
// failures become FailedEvents; only transport failures cause Backoff.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/internal/document"
	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/pkg/tracing"
)

const (
	component = "ocr-worker"

	// ConsumerGroup is shared by every worker instance so the bus spreads
	// partitions across them.
	ConsumerGroup = "ocr_worker"

	commitTimeout = 10 * time.Second
)

type State int32

const (
	Idle State = iota
	Subscribed
	Processing
	Backoff
	ShuttingDown
)

var stateNames = []string{"idle", "subscribed", "processing", "backoff", "shutting_down"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Subscription is one consumer-group membership.
type Subscription interface {
	Fetch(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, msg kafka.Message) error
	Close() error
}

// SubscribeFunc joins the upload topic.
type SubscribeFunc func(ctx context.Context) (Subscription, error)

// KafkaSubscriber subscribes to the uploaded-events topic under the
// configured group, ConsumerGroup when unset.
func KafkaSubscriber(cfg config.KafkaConfig) SubscribeFunc {
	group := cfg.ConsumerGroup
	if group == "" {
		group = ConsumerGroup
	}
	return func(ctx context.Context) (Subscription, error) {
		sub, err := kafka.Subscribe(ctx, cfg, cfg.Topics.DocumentUploaded, group)
		if err != nil {
			return nil, err
		}
		return sub, nil
	}
}

type Updater interface {
	Update(ctx context.Context, id int64, patch document.Patch) (*document.Document, error)
}

type BlobStore interface {
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

type Extractor interface {
	Extract(ctx context.Context, name string, content []byte) (string, error)
}

type EventPublisher interface {
	PublishProcessed(ctx context.Context, ev document.ProcessedEvent) error
	PublishFailed(ctx context.Context, ev document.FailedEvent) error
}

type Options struct {
	// Backoff is the fixed delay after a transport failure. Default 5s.
	Backoff time.Duration
	// OCRTimeout bounds one extraction. Zero means no limit.
	OCRTimeout time.Duration
}

type Worker struct {
	subscribe SubscribeFunc
	docs      Updater
	blobs     BlobStore
	extractor Extractor
	events    EventPublisher
	opts      Options
	metrics   *metrics.Metrics
	state     atomic.Int32
	now       func() time.Time
	logger    *slog.Logger
}

// New wires a Worker. m may be nil.
func New(subscribe SubscribeFunc, docs Updater, blobs BlobStore, extractor Extractor, events EventPublisher, opts Options, m *metrics.Metrics) *Worker {
	if opts.Backoff <= 0 {
		opts.Backoff = 5 * time.Second
	}
	w := &Worker{
		subscribe: subscribe,
		docs:      docs,
		blobs:     blobs,
		extractor: extractor,
		events:    events,
		opts:      opts,
		metrics:   m,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    slog.Default().With("component", component),
	}
	w.setState(Idle)
	return w
}

func (w *Worker) State() State { return State(w.state.Load()) }

func (w *Worker) setState(s State) {
	prev := State(w.state.Swap(int32(s)))
	w.metrics.SetWorkerState(s.String(), stateNames)
	if prev != s {
		w.logger.Debug("state changed", "from", prev.String(), "to", s.String())
	}
}

// Run drives the loop until ctx is cancelled and returns nil then. A
// message being processed when ctx is cancelled is finished and committed
// before the subscription is closed.
func (w *Worker) Run(ctx context.Context) error {
	var sub Subscription
	defer func() {
		w.setState(ShuttingDown)
		if sub != nil {
			if err := sub.Close(); err != nil {
				w.logger.Warn("closing subscription failed", "error", err)
			}
		}
		w.logger.Info("worker stopped")
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}
		if sub == nil {
			s, err := w.subscribe(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				w.logger.Warn("subscribe failed; backing off", "error", err, "delay", w.opts.Backoff)
				if !w.backoff(ctx, Idle) {
					return nil
				}
				continue
			}
			sub = s
			w.setState(Subscribed)
			w.logger.Info("worker subscribed")
		}

		msg, err := sub.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.Warn("fetch failed; backing off", "error", err, "delay", w.opts.Backoff)
			if !w.backoff(ctx, Subscribed) {
				return nil
			}
			continue
		}

		w.setState(Processing)
		pctx := context.WithoutCancel(ctx)
		w.Handle(pctx, msg)

		cctx, cancel := context.WithTimeout(pctx, commitTimeout)
		err = sub.Commit(cctx, msg)
		cancel()
		if err != nil {
			w.logger.Error("commit failed; message may be redelivered",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
			if !w.backoff(ctx, Subscribed) {
				return nil
			}
			continue
		}
		w.setState(Subscribed)
	}
}

// backoff waits the fixed delay and moves to next. It returns false when
// ctx was cancelled first.
func (w *Worker) backoff(ctx context.Context, next State) bool {
	w.setState(Backoff)
	t := time.NewTimer(w.opts.Backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		w.setState(next)
		return true
	}
}

// Handle processes one message to completion. It never returns an error:
// failures are published as FailedEvents and logged.
func (w *Worker) Handle(ctx context.Context, msg kafka.Message) {
	ctx = logger.WithRequestID(ctx, fmt.Sprintf("%s/%d/%d", msg.Topic, msg.Partition, msg.Offset))
	log := logger.FromContext(ctx).With("component", component)
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		log.Error("panic while handling message", "partition", msg.Partition, "offset", msg.Offset, "panic", r)
		if id, ok := document.ParseEventKey(msg.Key); ok {
			w.publishFailed(ctx, id, apperrors.Newf(apperrors.ErrOcr, "processing panicked: %v", r))
		}
	}()

	ev, err := decode(msg)
	if err != nil {
		id, ok := document.ParseEventKey(msg.Key)
		if ev.DocumentID > 0 {
			id, ok = ev.DocumentID, true
		}
		log.Error("discarding undecodable upload event",
			"key", string(msg.Key),
			"partition", msg.Partition,
			"offset", msg.Offset,
			"error", err,
		)
		w.metrics.ObserveOCR("unknown", apperrors.KindOf(err), 0)
		if ok {
			w.publishFailed(ctx, id, err)
		}
		return
	}

	start := time.Now()
	kind := document.KindOf(ev.StorageKey)
	var text string
	ctx, span := tracing.StartSpan(ctx, "ocr_process", logger.RequestIDFrom(ctx))
	span.SetAttr("document_id", ev.DocumentID)
	err = logger.Operation(ctx, logger.OperationSpec{
		Component: component,
		Category:  "message",
		Name:      "process_upload",
		Level:     slog.LevelInfo,
	}, func(ctx context.Context) error {
		var err error
		text, err = w.process(ctx, ev, kind)
		return err
	}, "document_id", ev.DocumentID, "storage_key", ev.StorageKey)
	span.End(err)
	span.Log(ctx, w.logger, slog.LevelDebug)

	result := "ok"
	if err != nil {
		result = apperrors.KindOf(err)
	}
	w.metrics.ObserveOCR(kind.String(), result, time.Since(start))

	if err != nil {
		w.publishFailed(ctx, ev.DocumentID, err)
		return
	}
	perr := w.events.PublishProcessed(ctx, document.ProcessedEvent{
		DocumentID:  ev.DocumentID,
		Text:        text,
		ProcessedAt: w.now(),
	})
	if perr != nil {
		log.Error("text stored but processed event not published",
			"document_id", ev.DocumentID,
			"error", perr,
		)
	}
}

func decode(msg kafka.Message) (document.UploadedEvent, error) {
	ev, err := kafka.DecodeJSON[document.UploadedEvent](msg.Value)
	if err != nil {
		return ev, apperrors.Wrap(apperrors.ErrValidation, err, "decoding upload event")
	}
	if ev.DocumentID <= 0 || ev.StorageKey == "" {
		return ev, apperrors.New(apperrors.ErrValidation, "upload event needs documentId and storageKey")
	}
	return ev, nil
}

func (w *Worker) process(ctx context.Context, ev document.UploadedEvent, kind document.Kind) (string, error) {
	if kind == document.KindUnsupported {
		return "", apperrors.Newf(apperrors.ErrUnsupportedFormat,
			"document %d: %s is neither a PDF nor an image", ev.DocumentID, ev.StorageKey)
	}

	body, err := w.blobs.Get(ctx, ev.StorageKey)
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrStorage, err, "fetching "+ev.StorageKey)
	}
	content, err := io.ReadAll(body)
	body.Close()
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrStorage, err, "reading "+ev.StorageKey)
	}

	text, err := resilience.CallWithTimeout(ctx, w.opts.OCRTimeout, "ocr", func(ctx context.Context) (string, error) {
		return w.extractor.Extract(ctx, ev.StorageKey, content)
	})
	if err != nil {
		if !errors.Is(err, apperrors.ErrOcr) {
			err = apperrors.Wrap(apperrors.ErrOcr, err, "extracting text")
		}
		return "", err
	}

	if _, err := w.docs.Update(ctx, ev.DocumentID, document.Patch{OcrText: &text}); err != nil {
		return "", err
	}
	return text, nil
}

func (w *Worker) publishFailed(ctx context.Context, id int64, cause error) {
	err := w.events.PublishFailed(ctx, document.FailedEvent{
		DocumentID:  id,
		Error:       cause.Error(),
		ProcessedAt: w.now(),
	})
	if err != nil {
		logger.FromContext(ctx).Error("failed event not published",
			"component", component,
			"document_id", id,
			"cause", cause,
			"error", err,
		)
	}
}
