// Package handler exposes the ingestion coordinator over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/internal/document"
	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/internal/ingestion/validator"
	apperrors "github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/pkg/logger"
)

// multipartOverhead is the allowance for form fields and part headers on
// top of the file size ceiling.
const multipartOverhead = 1 << 20

// Service is the coordinator surface the handler drives.
type Service interface {
	Upload(ctx context.Context, name string, content io.Reader) (*document.Document, error)
	Get(ctx context.Context, id int64) (*document.Document, error)
	List(ctx context.Context) ([]*document.Document, error)
	Update(ctx context.Context, id int64, patch document.Patch) (*document.Document, error)
	Delete(ctx context.Context, id int64) error
	Search(ctx context.Context, query string, limit int) ([]document.SearchHit, error)
	Download(ctx context.Context, id int64) (*document.Document, io.ReadCloser, error)
	Reprocess(ctx context.Context, id int64) error
}

type Handler struct {
	svc            Service
	maxUploadBytes int64
	logger         *slog.Logger
}

// New creates the handler. maxUploadBytes <= 0 means 50 MB.
func New(svc Service, maxUploadBytes int64) *Handler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 50 << 20
	}
	return &Handler{
		svc:            svc,
		maxUploadBytes: maxUploadBytes,
		logger:         slog.Default().With("component", "ingestion-handler"),
	}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/documents", h.Upload)
	mux.HandleFunc("GET /api/v1/documents", h.List)
	mux.HandleFunc("GET /api/v1/documents/search", h.Search)
	mux.HandleFunc("GET /api/v1/documents/{id}", h.Get)
	mux.HandleFunc("GET /api/v1/documents/{id}/download", h.Download)
	mux.HandleFunc("PATCH /api/v1/documents/{id}", h.Update)
	mux.HandleFunc("DELETE /api/v1/documents/{id}", h.Delete)
	mux.HandleFunc("POST /api/v1/documents/{id}/reprocess", h.Reprocess)
}

// Upload accepts a multipart form with a "file" part and an optional
// "name" field overriding the file name.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+multipartOverhead)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, r, &validator.ValidationError{Fields: map[string]string{
				"file": "file must be at most " + strconv.FormatInt(h.maxUploadBytes, 10) + " bytes",
			}})
			return
		}
		h.writeError(w, r, apperrors.New(apperrors.ErrValidation, "expected a multipart/form-data body"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(w, r, &validator.ValidationError{Fields: map[string]string{
			"file": "file is required",
		}})
		return
	}
	defer file.Close()

	name := r.FormValue("name")
	if name == "" {
		name = header.Filename
	}
	upload := validator.Upload{
		Name:        name,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
	}
	if err := validator.ValidateUpload(upload, h.maxUploadBytes); err != nil {
		h.writeError(w, r, err)
		return
	}

	doc, err := h.svc.Upload(ctx, name, file)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	logger.FromContext(ctx).Info("document uploaded",
		"document_id", doc.ID,
		"storage_key", doc.StorageKey,
		"size", header.Size,
	)
	w.Header().Set("Location", "/api/v1/documents/"+strconv.FormatInt(doc.ID, 10))
	h.writeJSON(w, http.StatusCreated, doc)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	docs, err := h.svc.List(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"documents": docs,
		"count":     len(docs),
	})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	doc, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, doc)
}

func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	doc, body, err := h.svc.Download(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer body.Close()
	w.Header().Set("Content-Type", document.ContentTypeFor(doc.Name))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": doc.Name}))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		logger.FromContext(r.Context()).Warn("download interrupted", "document_id", id, "error", err)
	}
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var patch document.Patch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		h.writeError(w, r, apperrors.New(apperrors.ErrValidation, "invalid JSON body"))
		return
	}
	if err := validator.ValidatePatch(patch); err != nil {
		h.writeError(w, r, err)
		return
	}
	doc, err := h.svc.Update(r.Context(), id, patch)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, doc)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := h.svc.Delete(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			h.writeError(w, r, &validator.ValidationError{Fields: map[string]string{
				"limit": "limit must be a positive integer",
			}})
			return
		}
		limit = n
	}
	hits, err := h.svc.Search(r.Context(), query, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"query": query,
		"hits":  hits,
	})
}

func (h *Handler) Reprocess(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := h.svc.Reprocess(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, map[string]any{"id": id, "status": "queued"})
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		h.writeError(w, r, &validator.ValidationError{Fields: map[string]string{
			"id": "id must be a positive integer",
		}})
		return 0, false
	}
	return id, true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

// writeError maps err to a status code and writes the error body. Server
// failures are logged with their cause and reported by kind only.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatusCode(err)
	body := map[string]any{
		"error":      err.Error(),
		"request_id": logger.RequestIDFrom(r.Context()),
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	}
	var ve *validator.ValidationError
	if errors.As(err, &ve) {
		body["error"] = "validation failed"
		body["fields"] = ve.Fields
	}
	log := logger.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		body["error"] = apperrors.KindOf(err) + " failure"
		log.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"status_code", status,
			"kind", apperrors.KindOf(err),
			"error", err,
		)
	} else {
		log.Debug("request rejected", "status_code", status, "error", err)
	}
	h.writeJSON(w, status, body)
}
