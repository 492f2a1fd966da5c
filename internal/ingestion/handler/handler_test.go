package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/internal/document"
	apperrors "github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/pkg/middleware"
)

type fakeService struct {
	mu          sync.Mutex
	docs        map[int64]*document.Document
	content     map[int64][]byte
	nextID      int64
	uploadErr   error
	reprocessed []int64
}

func newFakeService() *fakeService {
	return &fakeService{docs: map[int64]*document.Document{}, content: map[int64][]byte{}}
}

func (f *fakeService) Upload(ctx context.Context, name string, content io.Reader) (*document.Document, error) {
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	data, err := io.ReadAll(content)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	doc := &document.Document{ID: f.nextID, Name: name, StorageKey: document.StorageKey(f.nextID, name), UploadedAt: time.Now().UTC()}
	f.docs[doc.ID] = doc
	f.content[doc.ID] = data
	return doc, nil
}

func (f *fakeService) Get(ctx context.Context, id int64) (*document.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return nil, apperrors.Newf(apperrors.ErrNotFound, "document %d", id)
	}
	return doc, nil
}

func (f *fakeService) List(ctx context.Context) ([]*document.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*document.Document, 0, len(f.docs))
	for id := int64(1); id <= f.nextID; id++ {
		if d, ok := f.docs[id]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeService) Update(ctx context.Context, id int64, patch document.Patch) (*document.Document, error) {
	doc, err := f.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	doc.Apply(patch)
	return doc, nil
}

func (f *fakeService) Delete(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.docs, id)
	return nil
}

func (f *fakeService) Search(ctx context.Context, query string, limit int) ([]document.SearchHit, error) {
	if query == "boom" {
		return nil, apperrors.Wrap(apperrors.ErrIndex, errors.New("connection refused"), "searching documents")
	}
	hits := []document.SearchHit{}
	for _, d := range f.docs {
		if strings.Contains(strings.ToLower(d.Name), strings.ToLower(query)) {
			hits = append(hits, document.SearchHit{ID: d.ID, Name: d.Name, Score: 1})
		}
	}
	return hits, nil
}

func (f *fakeService) Download(ctx context.Context, id int64) (*document.Document, io.ReadCloser, error) {
	doc, err := f.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return doc, io.NopCloser(bytes.NewReader(f.content[id])), nil
}

func (f *fakeService) Reprocess(ctx context.Context, id int64) error {
	if _, err := f.Get(ctx, id); err != nil {
		return err
	}
	f.reprocessed = append(f.reprocessed, id)
	return nil
}

func newServer(t *testing.T, svc Service, maxBytes int64) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	New(svc, maxBytes).Register(mux)
	srv := httptest.NewServer(middleware.RequestID(mux))
	t.Cleanup(srv.Close)
	return srv
}

func multipartBody(t *testing.T, filename, contentType string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	part, err := mw.CreatePart(h)
	if err != nil {
		t.Fatalf("CreatePart: %v", err)
	}
	part.Write(content)
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func postFile(t *testing.T, srv *httptest.Server, filename, contentType string, content []byte) *http.Response {
	t.Helper()
	body, ct := multipartBody(t, filename, contentType, content)
	resp, err := http.Post(srv.URL+"/api/v1/documents", ct, body)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, r io.Reader) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(r).Decode(&v); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return v
}

func TestUploadAndGet(t *testing.T) {
	srv := newServer(t, newFakeService(), 0)

	resp := postFile(t, srv, "HelloWorld.pdf", "application/pdf", []byte("%PDF-1.4"))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	doc := decode[document.Document](t, resp.Body)
	if doc.StorageKey != "1_HelloWorld.pdf" {
		t.Fatalf("storage key = %q", doc.StorageKey)
	}
	if loc := resp.Header.Get("Location"); loc != "/api/v1/documents/1" {
		t.Fatalf("location = %q", loc)
	}

	get, err := http.Get(srv.URL + "/api/v1/documents/1")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer get.Body.Close()
	if get.StatusCode != http.StatusOK {
		t.Fatalf("GET status = %d", get.StatusCode)
	}
	got := decode[map[string]any](t, get.Body)
	if got["name"] != "HelloWorld.pdf" || got["storageKey"] != "1_HelloWorld.pdf" {
		t.Fatalf("body = %v", got)
	}
}

func TestUploadRejectsUnsupportedType(t *testing.T) {
	svc := newFakeService()
	srv := newServer(t, svc, 0)

	resp := postFile(t, srv, "notes.docx", "application/vnd.openxmlformats-officedocument.wordprocessingml.document", []byte("PK"))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body := decode[map[string]any](t, resp.Body)
	fields, ok := body["fields"].(map[string]any)
	if !ok || fields["content_type"] == nil {
		t.Fatalf("body = %v", body)
	}
	if body["request_id"] == "" || body["timestamp"] == nil {
		t.Fatalf("missing correlation fields: %v", body)
	}
	if svc.nextID != 0 {
		t.Fatal("service should not be called for invalid uploads")
	}
}

func TestUploadRejectsOversizedFile(t *testing.T) {
	srv := newServer(t, newFakeService(), 8)
	resp := postFile(t, srv, "big.png", "image/png", bytes.Repeat([]byte("x"), 64))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestUploadStorageFailureIs500WithRequestID(t *testing.T) {
	svc := newFakeService()
	svc.uploadErr = apperrors.Wrap(apperrors.ErrStorage, errors.New("bucket unreachable"), "storing content")
	srv := newServer(t, svc, 0)

	body, ct := multipartBody(t, "a.png", "image/png", []byte("x"))
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/documents", body)
	req.Header.Set("Content-Type", ct)
	req.Header.Set(middleware.RequestIDHeader, "req-123")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	got := decode[map[string]any](t, resp.Body)
	if got["request_id"] != "req-123" {
		t.Fatalf("request_id = %v", got["request_id"])
	}
	if got["error"] != "storage failure" {
		t.Fatalf("error = %v", got["error"])
	}
}

func TestGetMissingAndBadID(t *testing.T) {
	srv := newServer(t, newFakeService(), 0)
	for path, want := range map[string]int{
		"/api/v1/documents/42":  http.StatusNotFound,
		"/api/v1/documents/abc": http.StatusBadRequest,
		"/api/v1/documents/0":   http.StatusBadRequest,
	} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != want {
			t.Errorf("GET %s = %d, want %d", path, resp.StatusCode, want)
		}
	}
}

func TestPatchDeleteAndDownload(t *testing.T) {
	srv := newServer(t, newFakeService(), 0)
	postFile(t, srv, "scan.png", "image/png", []byte("pixels"))

	req, _ := http.NewRequest(http.MethodPatch, srv.URL+"/api/v1/documents/1", strings.NewReader(`{"name":"renamed.png"}`))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PATCH: %v", err)
	}
	doc := decode[document.Document](t, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || doc.Name != "renamed.png" {
		t.Fatalf("PATCH = %d %+v", resp.StatusCode, doc)
	}

	req, _ = http.NewRequest(http.MethodPatch, srv.URL+"/api/v1/documents/1", strings.NewReader(`{}`))
	resp, _ = http.DefaultClient.Do(req)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty PATCH = %d", resp.StatusCode)
	}

	dl, err := http.Get(srv.URL + "/api/v1/documents/1/download")
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	data, _ := io.ReadAll(dl.Body)
	dl.Body.Close()
	if string(data) != "pixels" || dl.Header.Get("Content-Type") != "image/png" {
		t.Fatalf("download = %q (%s)", data, dl.Header.Get("Content-Type"))
	}

	for i := 0; i < 2; i++ {
		req, _ = http.NewRequest(http.MethodDelete, srv.URL+"/api/v1/documents/1", nil)
		resp, err = http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("DELETE: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNoContent {
			t.Fatalf("DELETE #%d = %d", i+1, resp.StatusCode)
		}
	}
}

func TestSearchAndReprocess(t *testing.T) {
	svc := newFakeService()
	srv := newServer(t, svc, 0)
	postFile(t, srv, "invoice.pdf", "application/pdf", []byte("x"))

	resp, err := http.Get(srv.URL + "/api/v1/documents/search?q=invoice")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	body := decode[map[string]any](t, resp.Body)
	resp.Body.Close()
	if hits, _ := body["hits"].([]any); len(hits) != 1 {
		t.Fatalf("search body = %v", body)
	}

	resp, _ = http.Get(srv.URL + "/api/v1/documents/search?q=boom")
	resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("failing search = %d", resp.StatusCode)
	}

	resp, err = http.Post(srv.URL+"/api/v1/documents/1/reprocess", "application/json", nil)
	if err != nil {
		t.Fatalf("reprocess: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted || len(svc.reprocessed) != 1 {
		t.Fatalf("reprocess = %d, calls %v", resp.StatusCode, svc.reprocessed)
	}
}
