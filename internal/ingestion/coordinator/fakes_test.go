package coordinator

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/internal/document"
	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/pkg/objectstore"
)

var errInjected = errors.New("injected failure")

func clone(d *document.Document) *document.Document {
	c := *d
	if d.OcrText != nil {
		text := *d.OcrText
		c.OcrText = &text
	}
	return &c
}

type fakeMeta struct {
	mu         sync.Mutex
	rows       map[int64]*document.Document
	nextID     int64
	failBegin  error
	failInsert error
	failSetKey error
	failCommit error
	failDelete error
	rollbacks  int
}

func newFakeMeta() *fakeMeta {
	return &fakeMeta{rows: make(map[int64]*document.Document)}
}

func (m *fakeMeta) Begin(ctx context.Context) (UnitOfWork, error) {
	if m.failBegin != nil {
		return nil, m.failBegin
	}
	return &fakeUnitOfWork{meta: m}, nil
}

func (m *fakeMeta) Get(ctx context.Context, id int64) (*document.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.rows[id]
	if !ok {
		return nil, apperrors.Newf(apperrors.ErrNotFound, "document %d", id)
	}
	return clone(doc), nil
}

func (m *fakeMeta) List(ctx context.Context) ([]*document.Document, error) {
	return m.filter(func(*document.Document) bool { return true }), nil
}

func (m *fakeMeta) ListPending(ctx context.Context) ([]*document.Document, error) {
	return m.filter(func(d *document.Document) bool { return d.OcrText == nil && d.Finalized() }), nil
}

func (m *fakeMeta) filter(keep func(*document.Document) bool) []*document.Document {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*document.Document, 0, len(m.rows))
	for _, d := range m.rows {
		if keep(d) {
			out = append(out, clone(d))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *fakeMeta) Update(ctx context.Context, id int64, patch document.Patch) (*document.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.rows[id]
	if !ok {
		return nil, apperrors.Newf(apperrors.ErrNotFound, "document %d", id)
	}
	doc.Apply(patch)
	return clone(doc), nil
}

func (m *fakeMeta) Delete(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failDelete != nil {
		return m.failDelete
	}
	if _, ok := m.rows[id]; !ok {
		return apperrors.Newf(apperrors.ErrNotFound, "document %d", id)
	}
	delete(m.rows, id)
	return nil
}

func (m *fakeMeta) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

type fakeUnitOfWork struct {
	meta *fakeMeta
	doc  *document.Document
	done bool
}

func (u *fakeUnitOfWork) Insert(ctx context.Context, name string, uploadedAt time.Time) (*document.Document, error) {
	if u.meta.failInsert != nil {
		return nil, u.meta.failInsert
	}
	u.meta.mu.Lock()
	u.meta.nextID++
	id := u.meta.nextID
	u.meta.mu.Unlock()
	u.doc = &document.Document{ID: id, Name: name, UploadedAt: uploadedAt}
	return clone(u.doc), nil
}

func (u *fakeUnitOfWork) SetStorageKey(ctx context.Context, id int64, key string) error {
	if u.meta.failSetKey != nil {
		return u.meta.failSetKey
	}
	u.doc.StorageKey = key
	return nil
}

func (u *fakeUnitOfWork) Commit() error {
	if u.done {
		return errors.New("transaction already finished")
	}
	u.done = true
	if u.meta.failCommit != nil {
		return u.meta.failCommit
	}
	u.meta.mu.Lock()
	defer u.meta.mu.Unlock()
	u.meta.rows[u.doc.ID] = clone(u.doc)
	return nil
}

func (u *fakeUnitOfWork) Rollback() error {
	if u.done {
		return nil
	}
	u.done = true
	u.meta.mu.Lock()
	u.meta.rollbacks++
	u.meta.mu.Unlock()
	return nil
}

// fakeObjects wraps the in-memory store with failure injection. Delete
// refuses a cancelled context, so tests can tell detached compensation
// from work done on the caller's context.
type fakeObjects struct {
	*objectstore.MemoryStore
	failPut    error
	failDelete error
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{MemoryStore: objectstore.NewMemoryStore()}
}

func (f *fakeObjects) Put(ctx context.Context, key string, body io.Reader, contentType string) error {
	if f.failPut != nil {
		return f.failPut
	}
	return f.MemoryStore.Put(ctx, key, body, contentType)
}

func (f *fakeObjects) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.failDelete != nil {
		return f.failDelete
	}
	return f.MemoryStore.Delete(ctx, key)
}

// localIndex runs the real index engine in process.
type localIndex struct {
	engine      *indexer.Engine
	exec        *executor.Executor
	mu          sync.Mutex
	upsertCalls int
	failUpserts int
	upsertHook  func(ctx context.Context) error
	lostReply   error
	failDelete  error
}

func newLocalIndex(t *testing.T) *localIndex {
	t.Helper()
	engine, err := indexer.NewEngine(config.IndexerConfig{DataDir: t.TempDir(), FlushInterval: time.Hour}, "paperless-documents", nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return &localIndex{engine: engine, exec: executor.New(engine, 2)}
}

func (l *localIndex) Upsert(ctx context.Context, entry document.IndexEntry) error {
	l.mu.Lock()
	l.upsertCalls++
	fail := l.failUpserts != 0
	if l.failUpserts > 0 {
		l.failUpserts--
	}
	hook := l.upsertHook
	l.mu.Unlock()
	if hook != nil {
		if err := hook(ctx); err != nil {
			return err
		}
	}
	if fail {
		return errInjected
	}
	if err := l.engine.Upsert(entry); err != nil {
		return err
	}
	// lostReply models a write the index applied whose response never
	// reached the caller.
	return l.lostReply
}

func (l *localIndex) Delete(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if l.failDelete != nil {
		return l.failDelete
	}
	if !l.engine.Delete(id) {
		return apperrors.Newf(apperrors.ErrNotFound, "document %d is not indexed", id)
	}
	return nil
}

func (l *localIndex) Search(ctx context.Context, query string, limit int) ([]document.SearchHit, error) {
	res, err := l.exec.Execute(ctx, parser.Parse(query, 0.75), limit)
	if err != nil {
		return nil, err
	}
	return res.Hits, nil
}

type fakeEvents struct {
	mu       sync.Mutex
	uploaded []document.UploadedEvent
	err      error
}

func (f *fakeEvents) PublishUploaded(ctx context.Context, ev document.UploadedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.uploaded = append(f.uploaded, ev)
	return nil
}

func (f *fakeEvents) PublishUploadedBatch(ctx context.Context, evs []document.UploadedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.uploaded = append(f.uploaded, evs...)
	return nil
}

type fixture struct {
	coord   *Coordinator
	meta    *fakeMeta
	objects *fakeObjects
	index   *localIndex
	events  *fakeEvents
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		meta:    newFakeMeta(),
		objects: newFakeObjects(),
		index:   newLocalIndex(t),
		events:  &fakeEvents{},
	}
	f.coord = New(f.meta, f.objects, f.index, f.events, config.CoordinatorConfig{
		IndexRetryAttempts:  3,
		IndexRetryDelay:     time.Millisecond,
		CompensationTimeout: time.Second,
	}, nil)
	return f
}
