// Package coordinator runs the document sagas across the metadata store,
// the object store, the search index and the event bus. After any call
// returns, the four systems either all reflect the new state or have been
// compensated back to the old one; compensation failures are logged and
// never replace the original error.
package coordinator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/internal/document"
	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/pkg/objectstore"
	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/pkg/tracing"
)

const component = "ingestion-coordinator"

type Coordinator struct {
	meta    MetadataStore
	objects ObjectStore
	index   SearchIndex
	events  EventPublisher
	cfg     config.CoordinatorConfig
	metrics *metrics.Metrics
	now     func() time.Time
	logger  *slog.Logger
}

// New wires a Coordinator. m may be nil.
func New(meta MetadataStore, objects ObjectStore, index SearchIndex, events EventPublisher, cfg config.CoordinatorConfig, m *metrics.Metrics) *Coordinator {
	if cfg.IndexRetryAttempts <= 0 {
		cfg.IndexRetryAttempts = 3
	}
	if cfg.IndexRetryDelay <= 0 {
		cfg.IndexRetryDelay = 200 * time.Millisecond
	}
	if cfg.CompensationTimeout <= 0 {
		cfg.CompensationTimeout = 10 * time.Second
	}
	return &Coordinator{
		meta:    meta,
		objects: objects,
		index:   index,
		events:  events,
		cfg:     cfg,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
		logger:  slog.Default().With("component", component),
	}
}

// Upload stores a new document: provisional row, blob, final key, index
// entry, commit, then an UploadedEvent. A failure before the commit
// returns leaves no row, no blob and no index entry behind.
func (c *Coordinator) Upload(ctx context.Context, name string, content io.Reader) (*document.Document, error) {
	var doc *document.Document
	err := c.saga(ctx, "upload", func(ctx context.Context) error {
		var err error
		doc, err = c.upload(ctx, name, content)
		return err
	}, "name", name)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (c *Coordinator) upload(ctx context.Context, name string, content io.Reader) (*document.Document, error) {
	const op = "upload"
	log := logger.FromContext(ctx).With("component", component, "name", name)

	var (
		uow UnitOfWork
		doc *document.Document
	)
	err := c.step(ctx, op, "insert_provisional", func(ctx context.Context) error {
		var err error
		if uow, err = c.meta.Begin(ctx); err != nil {
			return err
		}
		doc, err = uow.Insert(ctx, name, c.now())
		return err
	})
	if err != nil {
		if uow != nil {
			c.compensate(ctx, op, "rollback_metadata", func(context.Context) error { return uow.Rollback() })
		}
		return nil, apperrors.Wrap(apperrors.ErrStorage,
			apperrors.Wrap(apperrors.ErrMetadata, err, "inserting provisional row"),
			"recording "+name)
	}

	key := document.StorageKey(doc.ID, name)
	log = log.With("document_id", doc.ID, "storage_key", key)
	deleteBlob := func(ctx context.Context) error { return c.objects.Delete(ctx, key) }
	rollback := func(context.Context) error { return uow.Rollback() }
	deleteEntry := func(ctx context.Context) error { return ignoreNotFound(c.index.Delete(ctx, doc.ID)) }

	err = c.step(ctx, op, "put_object", func(ctx context.Context) error {
		return c.objects.Put(ctx, key, content, document.ContentTypeFor(name))
	})
	if err != nil {
		c.compensate(ctx, op, "rollback_metadata", rollback)
		c.compensate(ctx, op, "delete_object", deleteBlob)
		return nil, apperrors.Wrap(apperrors.ErrStorage, err, "storing content for "+key)
	}

	err = c.step(ctx, op, "set_storage_key", func(ctx context.Context) error {
		return uow.SetStorageKey(ctx, doc.ID, key)
	})
	if err != nil {
		c.compensate(ctx, op, "delete_object", deleteBlob)
		c.compensate(ctx, op, "rollback_metadata", rollback)
		return nil, apperrors.Wrap(apperrors.ErrStorage,
			apperrors.Wrap(apperrors.ErrMetadata, err, "setting storage key"),
			"finalizing "+key)
	}
	doc.StorageKey = key

	err = c.step(ctx, op, "index_upsert", func(ctx context.Context) error {
		return c.index.Upsert(ctx, doc.IndexEntry())
	})
	if err != nil {
		// The searcher may have applied the write before the call failed.
		c.compensate(ctx, op, "delete_index_entry", deleteEntry)
		c.compensate(ctx, op, "delete_object", deleteBlob)
		c.compensate(ctx, op, "rollback_metadata", rollback)
		return nil, apperrors.Wrap(apperrors.ErrIndex, err, "indexing document")
	}

	err = c.step(ctx, op, "commit", func(context.Context) error {
		return uow.Commit()
	})
	if err != nil {
		c.compensate(ctx, op, "delete_index_entry", deleteEntry)
		c.compensate(ctx, op, "delete_object", deleteBlob)
		return nil, apperrors.Wrap(apperrors.ErrMetadata, err, "committing document")
	}

	err = c.step(ctx, op, "publish_uploaded", func(ctx context.Context) error {
		return c.events.PublishUploaded(ctx, document.UploadedEvent{
			DocumentID: doc.ID,
			StorageKey: key,
			UploadedAt: doc.UploadedAt,
		})
	})
	if err != nil {
		log.Error("document stored but upload event not published; reprocess to retry", "error", err)
	}
	return doc, nil
}

func (c *Coordinator) Get(ctx context.Context, id int64) (*document.Document, error) {
	doc, err := c.meta.Get(ctx, id)
	if err != nil {
		return nil, metadataError(err, "loading document")
	}
	return doc, nil
}

// List returns every document ordered by id.
func (c *Coordinator) List(ctx context.Context) ([]*document.Document, error) {
	docs, err := c.meta.List(ctx)
	if err != nil {
		return nil, metadataError(err, "listing documents")
	}
	return docs, nil
}

// Update persists patch, then re-indexes the document with bounded
// retries. When the index stays unreachable the metadata change is kept and
// an ErrIndex error is returned; Reindex repairs the drift.
func (c *Coordinator) Update(ctx context.Context, id int64, patch document.Patch) (*document.Document, error) {
	var doc *document.Document
	err := c.saga(ctx, "update", func(ctx context.Context) error {
		const op = "update"
		err := c.step(ctx, op, "update_metadata", func(ctx context.Context) error {
			var err error
			doc, err = c.meta.Update(ctx, id, patch)
			return err
		})
		if err != nil {
			return metadataError(err, "updating document")
		}
		err = c.step(ctx, op, "index_upsert", func(ctx context.Context) error {
			return c.upsertWithRetry(ctx, doc.IndexEntry())
		})
		if err != nil {
			return apperrors.Wrap(apperrors.ErrIndex, err, "re-indexing document")
		}
		return nil
	}, "document_id", id)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (c *Coordinator) upsertWithRetry(ctx context.Context, entry document.IndexEntry) error {
	return resilience.Retry(ctx, "index-upsert", resilience.RetryConfig{
		MaxAttempts:  c.cfg.IndexRetryAttempts,
		InitialDelay: c.cfg.IndexRetryDelay,
		MaxDelay:     c.cfg.IndexRetryDelay * 8,
		Retryable: func(err error) bool {
			return !errors.Is(err, context.Canceled)
		},
	}, func(ctx context.Context) error {
		return c.index.Upsert(ctx, entry)
	})
}

// Delete removes the index entry, the blob and the row, in that order.
// Deleting an absent document succeeds. A failure stops the saga without
// restoring what was already removed.
func (c *Coordinator) Delete(ctx context.Context, id int64) error {
	return c.saga(ctx, "delete", func(ctx context.Context) error {
		const op = "delete"
		doc, err := c.meta.Get(ctx, id)
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil
		}
		if err != nil {
			return apperrors.Wrap(apperrors.ErrMetadata, err, "loading document")
		}

		err = c.step(ctx, op, "delete_index_entry", func(ctx context.Context) error {
			return ignoreNotFound(c.index.Delete(ctx, id))
		})
		if err != nil {
			return apperrors.Wrap(apperrors.ErrIndex, err, "removing index entry")
		}

		if doc.Finalized() {
			err = c.step(ctx, op, "delete_object", func(ctx context.Context) error {
				return c.objects.Delete(ctx, doc.StorageKey)
			})
			if err != nil && !errors.Is(err, objectstore.ErrNotFound) {
				return apperrors.Wrap(apperrors.ErrStorage, err, "removing content "+doc.StorageKey)
			}
		}

		err = c.step(ctx, op, "delete_metadata", func(ctx context.Context) error {
			return ignoreNotFound(c.meta.Delete(ctx, id))
		})
		if err != nil {
			return apperrors.Wrap(apperrors.ErrMetadata, err, "removing document row")
		}
		return nil
	}, "document_id", id)
}

// Search runs query against the index. limit <= 0 uses the index default.
func (c *Coordinator) Search(ctx context.Context, query string, limit int) ([]document.SearchHit, error) {
	if strings.TrimSpace(query) == "" {
		return []document.SearchHit{}, nil
	}
	start := time.Now()
	hits, err := c.index.Search(ctx, query, limit)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrIndex, err, "searching documents")
	}
	logger.FromContext(ctx).Debug("search passthrough",
		"component", component,
		"query", query,
		"hits", len(hits),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return hits, nil
}

// Download opens the stored content of id. The caller closes the reader.
func (c *Coordinator) Download(ctx context.Context, id int64) (*document.Document, io.ReadCloser, error) {
	doc, err := c.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if !doc.Finalized() {
		return nil, nil, apperrors.Newf(apperrors.ErrNotFound, "document %d has no content", id)
	}
	body, err := c.objects.Get(ctx, doc.StorageKey)
	if errors.Is(err, objectstore.ErrNotFound) {
		return nil, nil, apperrors.Wrap(apperrors.ErrNotFound, err, "content missing")
	}
	if err != nil {
		return nil, nil, apperrors.Wrap(apperrors.ErrStorage, err, "reading content")
	}
	return doc, body, nil
}

// saga wraps one coordinator operation with a trace, operation logs and
// metrics.
func (c *Coordinator) saga(ctx context.Context, op string, fn func(ctx context.Context) error, attrs ...any) error {
	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, op, logger.RequestIDFrom(ctx))
	err := logger.Operation(ctx, logger.OperationSpec{
		Component: component,
		Category:  "saga",
		Name:      op,
		Level:     slog.LevelInfo,
	}, fn, attrs...)
	span.End(err)

	level := slog.LevelDebug
	if span.Failed() {
		level = slog.LevelWarn
	}
	span.Log(ctx, c.logger, level)

	result := "ok"
	if err != nil {
		result = apperrors.KindOf(err)
	}
	c.metrics.ObserveSaga(op, result, time.Since(start))
	return err
}

func (c *Coordinator) step(ctx context.Context, op, name string, fn func(ctx context.Context) error) error {
	ctx, span := tracing.StartChildSpan(ctx, name)
	err := span.End(fn(ctx))
	c.metrics.ObserveStep(op, name, err)
	return err
}

// compensate runs an undo action on a context detached from the caller's
// cancellation, bounded by CompensationTimeout.
func (c *Coordinator) compensate(ctx context.Context, op, action string, fn func(ctx context.Context) error) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.CompensationTimeout)
	defer cancel()
	cctx, span := tracing.StartChildSpan(cctx, "compensate_"+action)
	err := span.End(fn(cctx))
	c.metrics.ObserveCompensation(op, action, err)
	log := logger.FromContext(ctx).With("component", component, "operation", op, "action", action)
	if err != nil {
		log.Error("compensation failed", "error", err)
		return
	}
	log.Info("compensation applied")
}

func metadataError(err error, msg string) error {
	if errors.Is(err, apperrors.ErrNotFound) {
		return err
	}
	return apperrors.Wrap(apperrors.ErrMetadata, err, msg)
}

func ignoreNotFound(err error) error {
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil
	}
	return err
}
