package coordinator

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/internal/document"
	apperrors "github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/pkg/errors"
)

// reindexParallelism bounds concurrent index writes during Reindex.
const reindexParallelism = 8

// Reprocess republishes the UploadedEvent of an existing document so the
// OCR worker extracts its text again.
func (c *Coordinator) Reprocess(ctx context.Context, id int64) error {
	return c.saga(ctx, "reprocess", func(ctx context.Context) error {
		doc, err := c.Get(ctx, id)
		if err != nil {
			return err
		}
		if !doc.Finalized() {
			return apperrors.Newf(apperrors.ErrNotFound, "document %d has no content", id)
		}
		err = c.step(ctx, "reprocess", "publish_uploaded", func(ctx context.Context) error {
			return c.events.PublishUploaded(ctx, uploadedEvent(doc))
		})
		if err != nil {
			return apperrors.Wrap(apperrors.ErrBus, err, "republishing upload event")
		}
		return nil
	}, "document_id", id)
}

// ReprocessPending republishes UploadedEvents for every document that has
// no extracted text yet and returns how many were queued.
func (c *Coordinator) ReprocessPending(ctx context.Context) (int, error) {
	var queued int
	err := c.saga(ctx, "reprocess_pending", func(ctx context.Context) error {
		docs, err := c.meta.ListPending(ctx)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrMetadata, err, "listing pending documents")
		}
		events := make([]document.UploadedEvent, 0, len(docs))
		for _, doc := range docs {
			events = append(events, uploadedEvent(doc))
		}
		err = c.step(ctx, "reprocess_pending", "publish_batch", func(ctx context.Context) error {
			return c.events.PublishUploadedBatch(ctx, events)
		})
		if err != nil {
			return apperrors.Wrap(apperrors.ErrBus, err, "republishing upload events")
		}
		queued = len(events)
		return nil
	})
	return queued, err
}

// Reindex writes every stored document into the search index again and
// returns how many entries were written. It repairs drift left by an
// Update whose index write failed.
func (c *Coordinator) Reindex(ctx context.Context) (int, error) {
	var written atomic.Int64
	err := c.saga(ctx, "reindex", func(ctx context.Context) error {
		docs, err := c.meta.List(ctx)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrMetadata, err, "listing documents")
		}
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(reindexParallelism)
		for _, doc := range docs {
			if !doc.Finalized() {
				continue
			}
			g.Go(func() error {
				if err := c.upsertWithRetry(gctx, doc.IndexEntry()); err != nil {
					return apperrors.Wrap(apperrors.ErrIndex, err, "re-indexing document")
				}
				written.Add(1)
				return nil
			})
		}
		return g.Wait()
	})
	return int(written.Load()), err
}

func uploadedEvent(doc *document.Document) document.UploadedEvent {
	return document.UploadedEvent{
		DocumentID: doc.ID,
		StorageKey: doc.StorageKey,
		UploadedAt: doc.UploadedAt,
	}
}
