package coordinator

import (
	"context"
	"io"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/internal/document"
	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/internal/metadata"
)

// MetadataStore is the relational record of documents.
type MetadataStore interface {
	Begin(ctx context.Context) (UnitOfWork, error)
	Get(ctx context.Context, id int64) (*document.Document, error)
	List(ctx context.Context) ([]*document.Document, error)
	ListPending(ctx context.Context) ([]*document.Document, error)
	Update(ctx context.Context, id int64, patch document.Patch) (*document.Document, error)
	Delete(ctx context.Context, id int64) error
}

// UnitOfWork is an open metadata transaction. Rollback after Commit is a
// no-op.
type UnitOfWork interface {
	Insert(ctx context.Context, name string, uploadedAt time.Time) (*document.Document, error)
	SetStorageKey(ctx context.Context, id int64, key string) error
	Commit() error
	Rollback() error
}

// ObjectStore holds document content. Get on a missing key returns an error
// matching objectstore.ErrNotFound; Delete of a missing key succeeds.
type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// SearchIndex is the full-text index. Delete of a missing entry returns an
// ErrNotFound AppError.
type SearchIndex interface {
	Upsert(ctx context.Context, entry document.IndexEntry) error
	Delete(ctx context.Context, id int64) error
	Search(ctx context.Context, query string, limit int) ([]document.SearchHit, error)
}

// EventPublisher announces uploads.
type EventPublisher interface {
	PublishUploaded(ctx context.Context, ev document.UploadedEvent) error
	PublishUploadedBatch(ctx context.Context, events []document.UploadedEvent) error
}

// PostgresMetadata adapts the Postgres store to MetadataStore.
func PostgresMetadata(store *metadata.Store) MetadataStore {
	return postgresMetadata{store}
}

type postgresMetadata struct {
	*metadata.Store
}

func (p postgresMetadata) Begin(ctx context.Context) (UnitOfWork, error) {
	uow, err := p.Store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return uow, nil
}
