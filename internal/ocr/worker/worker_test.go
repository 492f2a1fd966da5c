package worker

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/internal/document"
	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/internal/ocr"
	apperrors "github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/pkg/objectstore"
)

const waitTimeout = 2 * time.Second

type fakeSub struct {
	msgs      chan kafka.Message
	errs      chan error
	committed chan kafka.Message
	mu        sync.Mutex
	closed    bool
}

func newFakeSub() *fakeSub {
	return &fakeSub{
		msgs:      make(chan kafka.Message, 16),
		errs:      make(chan error, 4),
		committed: make(chan kafka.Message, 16),
	}
}

func (s *fakeSub) Fetch(ctx context.Context) (kafka.Message, error) {
	select {
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	case err := <-s.errs:
		return kafka.Message{}, err
	case m := <-s.msgs:
		return m, nil
	}
}

func (s *fakeSub) Commit(ctx context.Context, msg kafka.Message) error {
	s.committed <- msg
	return nil
}

func (s *fakeSub) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSub) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeDocs struct {
	mu      sync.Mutex
	text    map[int64]string
	updates int
	err     error
}

func (d *fakeDocs) Update(ctx context.Context, id int64, patch document.Patch) (*document.Document, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	d.updates++
	d.text[id] = *patch.OcrText
	return &document.Document{ID: id, OcrText: patch.OcrText}, nil
}

func (d *fakeDocs) get(id int64) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.text[id]
	return t, ok
}

type recordingEvents struct {
	mu        sync.Mutex
	processed []document.ProcessedEvent
	failed    []document.FailedEvent
}

func (r *recordingEvents) PublishProcessed(ctx context.Context, ev document.ProcessedEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processed = append(r.processed, ev)
	return nil
}

func (r *recordingEvents) PublishFailed(ctx context.Context, ev document.FailedEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, ev)
	return nil
}

func (r *recordingEvents) snapshot() ([]document.ProcessedEvent, []document.FailedEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]document.ProcessedEvent(nil), r.processed...), append([]document.FailedEvent(nil), r.failed...)
}

type extractFunc func(ctx context.Context, name string, content []byte) (string, error)

func (f extractFunc) Extract(ctx context.Context, name string, content []byte) (string, error) {
	return f(ctx, name, content)
}

type harness struct {
	worker *Worker
	sub    *fakeSub
	docs   *fakeDocs
	blobs  *objectstore.MemoryStore
	events *recordingEvents
	cancel context.CancelFunc
	done   chan struct{}
	runErr error
}

func newHarness(t *testing.T, extractor Extractor, opts Options) *harness {
	t.Helper()
	h := &harness{
		sub:    newFakeSub(),
		docs:   &fakeDocs{text: map[int64]string{}},
		blobs:  objectstore.NewMemoryStore(),
		events: &recordingEvents{},
	}
	subscribe := func(ctx context.Context) (Subscription, error) { return h.sub, nil }
	if opts.Backoff == 0 {
		opts.Backoff = 10 * time.Millisecond
	}
	h.worker = New(subscribe, h.docs, h.blobs, extractor, h.events, opts, nil)
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.done = make(chan struct{})
	go func() {
		h.runErr = h.worker.Run(ctx)
		close(h.done)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-h.done:
		case <-time.After(waitTimeout):
		}
	})
}

func (h *harness) stop(t *testing.T) {
	t.Helper()
	h.cancel()
	h.awaitStop(t)
}

func (h *harness) awaitStop(t *testing.T) {
	t.Helper()
	select {
	case <-h.done:
		if h.runErr != nil {
			t.Fatalf("Run returned %v", h.runErr)
		}
	case <-time.After(waitTimeout):
		t.Fatal("worker did not stop")
	}
}

func (h *harness) store(t *testing.T, key, content string) {
	t.Helper()
	if err := h.blobs.Put(context.Background(), key, strings.NewReader(content), document.ContentTypeFor(key)); err != nil {
		t.Fatalf("Put: %v", err)
	}
}

func (h *harness) send(t *testing.T, id int64, key string) kafka.Message {
	t.Helper()
	value, err := json.Marshal(document.UploadedEvent{DocumentID: id, StorageKey: key, UploadedAt: time.Now().UTC()})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	msg := kafka.Message{Topic: "document.uploaded", Key: []byte(document.EventKey(id)), Value: value}
	h.sub.msgs <- msg
	return msg
}

func (h *harness) awaitCommit(t *testing.T) kafka.Message {
	t.Helper()
	select {
	case m := <-h.sub.committed:
		return m
	case <-time.After(waitTimeout):
		t.Fatal("message was not committed")
		return kafka.Message{}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func fixedText(text string) extractFunc {
	return func(context.Context, string, []byte) (string, error) { return text, nil }
}

func TestWorkerExtractsAndUpdates(t *testing.T) {
	h := newHarness(t, fixedText("Hello World"), Options{})
	h.store(t, "1_HelloWorld.pdf", "%PDF-1.4")
	h.start(t)

	h.send(t, 1, "1_HelloWorld.pdf")
	h.awaitCommit(t)

	if text, ok := h.docs.get(1); !ok || text != "Hello World" {
		t.Fatalf("ocrText = %q (set=%v)", text, ok)
	}
	processed, failed := h.events.snapshot()
	if len(processed) != 1 || processed[0].DocumentID != 1 || processed[0].Text != "Hello World" {
		t.Fatalf("processed = %+v", processed)
	}
	if len(failed) != 0 {
		t.Fatalf("failed = %+v", failed)
	}
	waitFor(t, "subscribed state", func() bool { return h.worker.State() == Subscribed })
	h.stop(t)
	if h.worker.State() != ShuttingDown || !h.sub.isClosed() {
		t.Fatalf("state = %s, closed = %v", h.worker.State(), h.sub.isClosed())
	}
}

func TestWorkerUnsupportedFormatKeepsRunning(t *testing.T) {
	calls := 0
	h := newHarness(t, extractFunc(func(context.Context, string, []byte) (string, error) {
		calls++
		return "scanned", nil
	}), Options{})
	h.store(t, "3_notes.docx", "PK")
	h.store(t, "4_scan.png", "pixels")
	h.start(t)

	h.send(t, 3, "3_notes.docx")
	h.awaitCommit(t)
	h.send(t, 4, "4_scan.png")
	h.awaitCommit(t)

	_, failed := h.events.snapshot()
	if len(failed) != 1 || failed[0].DocumentID != 3 {
		t.Fatalf("failed = %+v", failed)
	}
	if !strings.Contains(failed[0].Error, "unsupported format") {
		t.Fatalf("failure detail = %q", failed[0].Error)
	}
	if _, ok := h.docs.get(3); ok {
		t.Fatal("ocrText should stay unset for the docx")
	}
	if calls != 1 {
		t.Fatalf("extractor calls = %d, want 1", calls)
	}
	if text, _ := h.docs.get(4); text != "scanned" {
		t.Fatalf("second message not processed: %q", text)
	}
}

type blankEngine struct{}

func (blankEngine) Name() string { return "blank" }

func (blankEngine) Recognize(context.Context, []byte) (string, error) { return " \n ", nil }

func TestWorkerEmptyResult(t *testing.T) {
	h := newHarness(t, ocr.NewExtractor(blankEngine{}, ocr.NewPDFCPU()), Options{})
	h.store(t, "5_blank.jpg", "jpeg")
	h.start(t)

	h.send(t, 5, "5_blank.jpg")
	h.awaitCommit(t)

	_, failed := h.events.snapshot()
	if len(failed) != 1 || !strings.Contains(failed[0].Error, "empty result") {
		t.Fatalf("failed = %+v", failed)
	}
	if _, ok := h.docs.get(5); ok {
		t.Fatal("ocrText should stay unset")
	}
}

func TestWorkerMissingBlob(t *testing.T) {
	h := newHarness(t, fixedText("x"), Options{})
	h.start(t)

	h.send(t, 6, "6_gone.png")
	h.awaitCommit(t)

	_, failed := h.events.snapshot()
	if len(failed) != 1 || failed[0].DocumentID != 6 {
		t.Fatalf("failed = %+v", failed)
	}
}

func TestWorkerOCRTimeout(t *testing.T) {
	h := newHarness(t, extractFunc(func(ctx context.Context, _ string, _ []byte) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}), Options{OCRTimeout: 20 * time.Millisecond})
	h.store(t, "7_slow.pdf", "%PDF")
	h.start(t)

	h.send(t, 7, "7_slow.pdf")
	h.awaitCommit(t)

	_, failed := h.events.snapshot()
	if len(failed) != 1 || !strings.Contains(failed[0].Error, "deadline exceeded") {
		t.Fatalf("failed = %+v", failed)
	}
}

func TestWorkerRecoversExtractorPanic(t *testing.T) {
	for _, timeout := range []time.Duration{0, time.Second} {
		t.Run(timeout.String(), func(t *testing.T) {
			h := newHarness(t, extractFunc(func(_ context.Context, name string, _ []byte) (string, error) {
				if name == "10_bad.pdf" {
					var m map[string]int
					m["page"] = 1
				}
				return "fine", nil
			}), Options{OCRTimeout: timeout})
			h.store(t, "10_bad.pdf", "%PDF")
			h.store(t, "11_good.png", "pixels")
			h.start(t)

			h.send(t, 10, "10_bad.pdf")
			if m := h.awaitCommit(t); string(m.Key) != document.EventKey(10) {
				t.Fatalf("committed %q", m.Key)
			}
			h.send(t, 11, "11_good.png")
			h.awaitCommit(t)

			processed, failed := h.events.snapshot()
			if len(failed) != 1 || failed[0].DocumentID != 10 || !strings.Contains(failed[0].Error, "panicked") {
				t.Fatalf("failed = %+v", failed)
			}
			if len(processed) != 1 || processed[0].DocumentID != 11 {
				t.Fatalf("worker stopped after the panic, processed = %+v", processed)
			}
			if _, ok := h.docs.get(10); ok {
				t.Fatal("ocrText should stay unset")
			}
		})
	}
}

func TestWorkerMalformedPDFFails(t *testing.T) {
	h := newHarness(t, ocr.NewExtractor(blankEngine{}, ocr.NewPDFCPU()), Options{OCRTimeout: time.Second})
	h.store(t, "12_broken.pdf", "%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\ntrailer\n<< /Root 1 0 R >>\n%%EOF\n")
	h.start(t)

	h.send(t, 12, "12_broken.pdf")
	h.awaitCommit(t)

	_, failed := h.events.snapshot()
	if len(failed) != 1 || failed[0].DocumentID != 12 {
		t.Fatalf("failed = %+v", failed)
	}
}

func TestWorkerUpdateFailurePublishesFailed(t *testing.T) {
	h := newHarness(t, fixedText("text"), Options{})
	h.docs.err = apperrors.Newf(apperrors.ErrNotFound, "document %d", 8)
	h.store(t, "8_a.png", "x")
	h.start(t)

	h.send(t, 8, "8_a.png")
	h.awaitCommit(t)

	processed, failed := h.events.snapshot()
	if len(processed) != 0 || len(failed) != 1 {
		t.Fatalf("processed = %+v, failed = %+v", processed, failed)
	}
}

func TestWorkerUndecodablePayload(t *testing.T) {
	h := newHarness(t, fixedText("x"), Options{})
	h.start(t)

	h.sub.msgs <- kafka.Message{Key: []byte("9"), Value: []byte("{not json")}
	h.awaitCommit(t)
	h.sub.msgs <- kafka.Message{Value: []byte("garbage")}
	h.awaitCommit(t)

	_, failed := h.events.snapshot()
	if len(failed) != 1 || failed[0].DocumentID != 9 {
		t.Fatalf("failed = %+v", failed)
	}
	if !strings.Contains(failed[0].Error, "validation failed") {
		t.Fatalf("failure detail = %q", failed[0].Error)
	}
}

func TestWorkerReplayIsIdempotent(t *testing.T) {
	h := newHarness(t, fixedText("Hello World"), Options{})
	h.store(t, "1_HelloWorld.pdf", "%PDF")
	h.start(t)

	h.send(t, 1, "1_HelloWorld.pdf")
	h.send(t, 1, "1_HelloWorld.pdf")
	h.awaitCommit(t)
	h.awaitCommit(t)

	if len(h.docs.text) != 1 {
		t.Fatalf("documents touched = %d", len(h.docs.text))
	}
	if text, _ := h.docs.get(1); text != "Hello World" {
		t.Fatalf("ocrText = %q", text)
	}
	processed, _ := h.events.snapshot()
	if len(processed) != 2 {
		t.Fatalf("processed events = %d, want 2", len(processed))
	}
}

func TestWorkerBacksOffUntilSubscribed(t *testing.T) {
	h := newHarness(t, fixedText("ok"), Options{})
	var mu sync.Mutex
	attempts := 0
	h.worker.subscribe = func(ctx context.Context) (Subscription, error) {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts <= 2 {
			return nil, errors.New("no reachable kafka broker")
		}
		return h.sub, nil
	}
	h.worker.opts.Backoff = 50 * time.Millisecond
	h.store(t, "2_a.png", "x")
	h.start(t)

	waitFor(t, "backoff state", func() bool { return h.worker.State() == Backoff })
	h.send(t, 2, "2_a.png")
	h.awaitCommit(t)

	mu.Lock()
	defer mu.Unlock()
	if attempts != 3 {
		t.Fatalf("subscribe attempts = %d, want 3", attempts)
	}
}

func TestWorkerBacksOffOnFetchError(t *testing.T) {
	h := newHarness(t, fixedText("ok"), Options{})
	h.store(t, "2_a.png", "x")
	h.sub.errs <- errors.New("fetching message: broken pipe")
	h.start(t)

	h.send(t, 2, "2_a.png")
	h.awaitCommit(t)
	if text, _ := h.docs.get(2); text != "ok" {
		t.Fatalf("message after fetch error not processed: %q", text)
	}
}

func TestWorkerShutdownFinishesInFlight(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	h := newHarness(t, extractFunc(func(ctx context.Context, _ string, _ []byte) (string, error) {
		close(started)
		<-release
		if err := ctx.Err(); err != nil {
			return "", err
		}
		return "finished", nil
	}), Options{})
	h.store(t, "1_a.pdf", "%PDF")
	h.start(t)

	h.send(t, 1, "1_a.pdf")
	select {
	case <-started:
	case <-time.After(waitTimeout):
		t.Fatal("processing did not start")
	}
	if h.worker.State() != Processing {
		t.Fatalf("state = %s, want processing", h.worker.State())
	}

	h.cancel()
	select {
	case <-h.done:
		t.Fatal("worker returned before the in-flight message finished")
	case <-time.After(20 * time.Millisecond):
	}
	if h.sub.isClosed() {
		t.Fatal("subscription closed while processing")
	}

	close(release)
	h.awaitStop(t)
	if text, _ := h.docs.get(1); text != "finished" {
		t.Fatalf("ocrText = %q", text)
	}
	select {
	case <-h.sub.committed:
	default:
		t.Fatal("in-flight message was not committed")
	}
	if !h.sub.isClosed() || h.worker.State() != ShuttingDown {
		t.Fatalf("closed = %v, state = %s", h.sub.isClosed(), h.worker.State())
	}
}

func TestStateString(t *testing.T) {
	if Backoff.String() != "backoff" || ShuttingDown.String() != "shutting_down" {
		t.Fatalf("names = %s, %s", Backoff, ShuttingDown)
	}
	if State(42).String() != "state(42)" {
		t.Fatalf("unknown = %s", State(42))
	}
}
