// Package indexer owns the search service's document index: the in-memory
// inverted index and its on-disk snapshot.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/internal/document"
	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/pkg/metrics"
)

type Engine struct {
	memIndex *index.MemoryIndex
	writer   *segment.Writer
	cfg      config.IndexerConfig
	name     string
	metrics  *metrics.Metrics
	logger   *slog.Logger

	flushMu        sync.Mutex
	flushedVersion uint64
	wg             sync.WaitGroup
}

// NewEngine opens the index called name under cfg.DataDir, loading the last
// snapshot if there is one. m may be nil.
func NewEngine(cfg config.IndexerConfig, name string, m *metrics.Metrics) (*Engine, error) {
	dir := filepath.Join(cfg.DataDir, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating index data directory: %w", err)
	}
	e := &Engine{
		memIndex: index.NewMemoryIndex(),
		writer:   segment.NewWriter(dir),
		cfg:      cfg,
		name:     name,
		metrics:  m,
		logger:   slog.Default().With("component", "indexer", "index", name),
	}
	if err := e.load(); err != nil {
		return nil, fmt.Errorf("loading snapshot: %w", err)
	}
	return e, nil
}

// Name returns the index name.
func (e *Engine) Name() string { return e.name }

// Index exposes the live index for query execution.
func (e *Engine) Index() *index.MemoryIndex { return e.memIndex }

// Upsert adds or replaces entry.
func (e *Engine) Upsert(entry document.IndexEntry) error {
	if entry.ID <= 0 {
		return fmt.Errorf("invalid document id %d", entry.ID)
	}
	replaced := e.memIndex.Upsert(entry)
	e.metrics.SetIndexedDocuments(e.memIndex.DocCount())
	e.logger.Debug("document indexed",
		"doc_id", entry.ID,
		"replaced", replaced,
		"has_text", entry.OcrText != nil,
	)
	return nil
}

// Delete removes id and reports whether it was indexed.
func (e *Engine) Delete(id int64) bool {
	removed := e.memIndex.Delete(id)
	if removed {
		e.metrics.SetIndexedDocuments(e.memIndex.DocCount())
		e.logger.Debug("document removed", "doc_id", id)
	}
	return removed
}

func (e *Engine) Get(id int64) (document.IndexEntry, bool) {
	return e.memIndex.Get(id)
}

func (e *Engine) DocCount() int {
	return e.memIndex.DocCount()
}

// Flush writes a snapshot if the index changed since the last one.
func (e *Engine) Flush() error {
	e.flushMu.Lock()
	defer e.flushMu.Unlock()

	version := e.memIndex.Version()
	if version == e.flushedVersion {
		return nil
	}
	header, err := e.writer.Write(e.memIndex.Entries())
	e.metrics.ObserveFlush(err)
	if err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	e.flushedVersion = version
	e.logger.Info("snapshot flushed",
		"path", e.writer.Path(),
		"docs", header.DocCount,
		"bytes", header.PayloadSize,
	)
	return nil
}

// StartFlushLoop flushes every cfg.FlushInterval until ctx is done, then
// performs a final flush.
func (e *Engine) StartFlushLoop(ctx context.Context) {
	interval := e.cfg.FlushInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				e.logger.Info("flush loop stopping, performing final flush")
				if err := e.Flush(); err != nil {
					e.logger.Error("final flush failed", "error", err)
				}
				return
			case <-ticker.C:
				if err := e.Flush(); err != nil {
					e.logger.Error("periodic flush failed", "error", err)
				}
			}
		}
	}()
}

// Close waits for the flush loop and writes a last snapshot.
func (e *Engine) Close() error {
	e.wg.Wait()
	return e.Flush()
}

func (e *Engine) load() error {
	header, entries, err := segment.Read(e.writer.Path())
	if errors.Is(err, segment.ErrNoSnapshot) {
		e.logger.Info("no snapshot found, starting empty")
		return nil
	}
	if err != nil {
		return err
	}
	for _, entry := range entries {
		e.memIndex.Upsert(entry)
	}
	e.flushedVersion = e.memIndex.Version()
	e.metrics.SetIndexedDocuments(e.memIndex.DocCount())
	e.logger.Info("snapshot loaded",
		"docs", len(entries),
		"created_at", time.Unix(header.CreatedAt, 0).UTC(),
	)
	return nil
}
