package metadata

import (
	"context"
	"errors"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/internal/document"
	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/pkg/postgres"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	port, err := strconv.Atoi(envOrDefault("TEST_POSTGRES_PORT", "5432"))
	if err != nil {
		t.Fatalf("TEST_POSTGRES_PORT: %v", err)
	}
	db, err := postgres.New(config.PostgresConfig{
		Host:            envOrDefault("TEST_POSTGRES_HOST", "localhost"),
		Port:            port,
		Database:        envOrDefault("TEST_POSTGRES_DB", "paperless_test"),
		User:            envOrDefault("TEST_POSTGRES_USER", "paperless"),
		Password:        envOrDefault("TEST_POSTGRES_PASSWORD", "localdev"),
		SSLMode:         "disable",
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Minute,
	})
	if err != nil {
		t.Skipf("skipping: postgres unavailable: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := Migrate(context.Background(), db); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return NewStore(db)
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func TestUnitOfWorkCommitMakesRowVisible(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	uow, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	doc, err := uow.Insert(ctx, "HelloWorld.pdf", time.Now().UTC())
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if _, err := s.Get(ctx, doc.ID); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("provisional row visible outside unit of work: %v", err)
	}
	key := document.StorageKey(doc.ID, doc.Name)
	if err := uow.SetStorageKey(ctx, doc.ID, key); err != nil {
		t.Fatalf("SetStorageKey: %v", err)
	}
	if err := uow.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := uow.Rollback(); err != nil {
		t.Fatalf("Rollback after commit: %v", err)
	}
	t.Cleanup(func() { _ = s.Delete(ctx, doc.ID) })

	got, err := s.Get(ctx, doc.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.StorageKey != key || got.OcrText != nil {
		t.Fatalf("unexpected row %+v", got)
	}
}

func TestUnitOfWorkRollbackDiscardsRow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	uow, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	doc, err := uow.Insert(ctx, "scan.png", time.Now().UTC())
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := uow.Rollback(); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if _, err := s.Get(ctx, doc.ID); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected not found after rollback, got %v", err)
	}
}

func TestUpdateAndDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	uow, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	doc, err := uow.Insert(ctx, "a.png", time.Now().UTC())
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := uow.SetStorageKey(ctx, doc.ID, document.StorageKey(doc.ID, doc.Name)); err != nil {
		t.Fatalf("SetStorageKey: %v", err)
	}
	if err := uow.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	pending, err := s.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	found := false
	for _, p := range pending {
		found = found || p.ID == doc.ID
	}
	if !found {
		t.Fatalf("document %d not pending", doc.ID)
	}

	text := "Hello World"
	updated, err := s.Update(ctx, doc.ID, document.Patch{OcrText: &text})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.OcrText == nil || *updated.OcrText != text || updated.Name != "a.png" {
		t.Fatalf("unexpected update result %+v", updated)
	}

	if err := s.Delete(ctx, doc.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, doc.ID); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("second Delete: %v", err)
	}
	if _, err := s.Update(ctx, doc.ID, document.Patch{OcrText: &text}); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("Update of missing row: %v", err)
	}
}
