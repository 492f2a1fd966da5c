package coordinator

import (
	"context"
	"errors"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/internal/document"
	apperrors "github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/pkg/errors"
)

func TestReprocessRepublishes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := upload(t, f, "a.pdf", "x")

	if err := f.coord.Reprocess(ctx, doc.ID); err != nil {
		t.Fatalf("Reprocess: %v", err)
	}
	if len(f.events.uploaded) != 2 {
		t.Fatalf("events = %d, want 2", len(f.events.uploaded))
	}
	if got := f.events.uploaded[1]; got.DocumentID != doc.ID || got.StorageKey != doc.StorageKey {
		t.Fatalf("event = %+v", got)
	}
}

func TestReprocessMissingDocument(t *testing.T) {
	f := newFixture(t)
	err := f.coord.Reprocess(context.Background(), 3)
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestReprocessPublishFailureIsBusError(t *testing.T) {
	f := newFixture(t)
	doc := upload(t, f, "a.pdf", "x")
	f.events.err = errInjected

	err := f.coord.Reprocess(context.Background(), doc.ID)
	if !errors.Is(err, apperrors.ErrBus) {
		t.Fatalf("expected ErrBus, got %v", err)
	}
}

func TestReprocessPendingSkipsProcessed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	done := upload(t, f, "done.pdf", "x")
	pending := upload(t, f, "pending.png", "x")
	if _, err := f.coord.Update(ctx, done.ID, document.Patch{OcrText: ptr("text")}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	f.events.uploaded = nil

	n, err := f.coord.ReprocessPending(ctx)
	if err != nil {
		t.Fatalf("ReprocessPending: %v", err)
	}
	if n != 1 || len(f.events.uploaded) != 1 || f.events.uploaded[0].DocumentID != pending.ID {
		t.Fatalf("queued %d, events %+v", n, f.events.uploaded)
	}
}

func TestReindexRestoresLostEntries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, name := range []string{"a.pdf", "b.png", "c.jpg"} {
		upload(t, f, name, "x")
	}
	f.index.engine.Index().Reset()

	n, err := f.coord.Reindex(ctx)
	if err != nil {
		t.Fatalf("Reindex: %v", err)
	}
	if n != 3 || f.index.engine.DocCount() != 3 {
		t.Fatalf("reindexed %d, index holds %d", n, f.index.engine.DocCount())
	}
}

func TestReindexFailureIsIndexError(t *testing.T) {
	f := newFixture(t)
	upload(t, f, "a.pdf", "x")
	f.index.failUpserts = -1

	_, err := f.coord.Reindex(context.Background())
	if !errors.Is(err, apperrors.ErrIndex) {
		t.Fatalf("expected ErrIndex, got %v", err)
	}
}
