// Package metadata is the PostgreSQL-backed record of documents. Uploads go
// through a UnitOfWork so the provisional row stays invisible until the rest
// of the saga has succeeded; other operations are single statements or short
// transactions.
package metadata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/internal/document"
	apperrors "github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/pkg/postgres"
)

const selectColumns = `SELECT id, name, storage_key, uploaded_at, ocr_text FROM documents`

// Store reads and writes the documents table.
type Store struct {
	db     *postgres.Client
	logger *slog.Logger
}

func NewStore(db *postgres.Client) *Store {
	return &Store{
		db:     db,
		logger: slog.Default().With("component", "metadata-store"),
	}
}

// Begin opens a unit of work for a multi-step write.
func (s *Store) Begin(ctx context.Context) (*UnitOfWork, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &UnitOfWork{tx: tx}, nil
}

// Get returns the document with id, or an ErrNotFound AppError.
func (s *Store) Get(ctx context.Context, id int64) (*document.Document, error) {
	row := s.db.DB.QueryRowContext(ctx, selectColumns+` WHERE id = $1`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Newf(apperrors.ErrNotFound, "document %d", id)
	}
	if err != nil {
		return nil, fmt.Errorf("querying document %d: %w", id, err)
	}
	return doc, nil
}

// List returns every document ordered by id.
func (s *Store) List(ctx context.Context) ([]*document.Document, error) {
	return s.query(ctx, selectColumns+` ORDER BY id`)
}

// ListPending returns finalized documents that have no extracted text yet.
func (s *Store) ListPending(ctx context.Context) ([]*document.Document, error) {
	return s.query(ctx, selectColumns+` WHERE ocr_text IS NULL AND storage_key IS NOT NULL ORDER BY id`)
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]*document.Document, error) {
	rows, err := s.db.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	docs := make([]*document.Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning document row: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// Update applies patch to the row under a row lock, so concurrent updates to
// one document serialise and the last writer wins.
func (s *Store) Update(ctx context.Context, id int64, patch document.Patch) (*document.Document, error) {
	var updated *document.Document
	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		doc, err := scanDocument(tx.QueryRowContext(ctx, selectColumns+` WHERE id = $1 FOR UPDATE`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return apperrors.Newf(apperrors.ErrNotFound, "document %d", id)
		}
		if err != nil {
			return fmt.Errorf("locking document %d: %w", id, err)
		}
		doc.Apply(patch)
		_, err = tx.ExecContext(ctx,
			`UPDATE documents SET name = $1, ocr_text = $2 WHERE id = $3`,
			doc.Name, nullString(doc.OcrText), id,
		)
		if err != nil {
			return fmt.Errorf("updating document %d: %w", id, err)
		}
		updated = doc
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debug("document updated", "document_id", id)
	return updated, nil
}

// Delete removes the row. A missing row is reported as ErrNotFound.
func (s *Store) Delete(ctx context.Context, id int64) error {
	result, err := s.db.DB.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting document %d: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return apperrors.Newf(apperrors.ErrNotFound, "document %d", id)
	}
	return nil
}

// UnitOfWork is an open transaction owned by one upload saga.
type UnitOfWork struct {
	tx   *sql.Tx
	done bool
}

// Insert adds a provisional row with no storage key and returns it with its
// assigned id.
func (u *UnitOfWork) Insert(ctx context.Context, name string, uploadedAt time.Time) (*document.Document, error) {
	var id int64
	err := u.tx.QueryRowContext(ctx,
		`INSERT INTO documents (name, storage_key, uploaded_at) VALUES ($1, NULL, $2) RETURNING id`,
		name, uploadedAt,
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("inserting document %q: %w", name, err)
	}
	return &document.Document{ID: id, Name: name, UploadedAt: uploadedAt}, nil
}

// SetStorageKey records the final object key for a provisional row.
func (u *UnitOfWork) SetStorageKey(ctx context.Context, id int64, key string) error {
	result, err := u.tx.ExecContext(ctx, `UPDATE documents SET storage_key = $1 WHERE id = $2`, key, id)
	if err != nil {
		return fmt.Errorf("setting storage key for %d: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n != 1 {
		return fmt.Errorf("setting storage key for %d: %d rows affected", id, n)
	}
	return nil
}

func (u *UnitOfWork) Commit() error {
	u.done = true
	if err := u.tx.Commit(); err != nil {
		return fmt.Errorf("committing unit of work: %w", err)
	}
	return nil
}

// Rollback abandons the unit of work. Calling it after Commit or a previous
// Rollback is a no-op.
func (u *UnitOfWork) Rollback() error {
	if u.done {
		return nil
	}
	u.done = true
	if err := u.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rolling back unit of work: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner) (*document.Document, error) {
	var (
		doc        document.Document
		storageKey sql.NullString
		ocrText    sql.NullString
	)
	if err := row.Scan(&doc.ID, &doc.Name, &storageKey, &doc.UploadedAt, &ocrText); err != nil {
		return nil, err
	}
	doc.StorageKey = storageKey.String
	if ocrText.Valid {
		text := ocrText.String
		doc.OcrText = &text
	}
	return &doc, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
