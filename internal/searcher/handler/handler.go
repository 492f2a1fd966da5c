package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/internal/document"
	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/pkg/metrics"
)

type SearchExecutor interface {
	Execute(ctx context.Context, plan *parser.QueryPlan, limit int) (*executor.SearchResult, error)
}

// IndexWriter is the write side of the index.
type IndexWriter interface {
	Upsert(entry document.IndexEntry) error
	Delete(id int64) bool
	Get(id int64) (document.IndexEntry, bool)
}

type Options struct {
	DefaultLimit       int
	MaxResults         int
	MinimumShouldMatch float64
}

type Handler struct {
	index    IndexWriter
	executor SearchExecutor
	cache    *cache.QueryCache
	metrics  *metrics.Metrics
	opts     Options
	logger   *slog.Logger
}

// New wires the handler. queryCache and m may be nil.
func New(index IndexWriter, exec SearchExecutor, queryCache *cache.QueryCache, m *metrics.Metrics, opts Options) *Handler {
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = 20
	}
	if opts.MaxResults < opts.DefaultLimit {
		opts.MaxResults = opts.DefaultLimit
	}
	return &Handler{
		index:    index,
		executor: exec,
		cache:    queryCache,
		metrics:  m,
		opts:     opts,
		logger:   slog.Default().With("component", "search-handler"),
	}
}

// Register mounts every route on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("PUT /api/v1/index/{id}", h.Upsert)
	mux.HandleFunc("GET /api/v1/index/{id}", h.Get)
	mux.HandleFunc("DELETE /api/v1/index/{id}", h.Delete)
	mux.HandleFunc("GET /api/v1/search", h.Search)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
}

func (h *Handler) Upsert(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var entry document.IndexEntry
	if err := json.NewDecoder(r.Body).Decode(&entry); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if entry.ID == 0 {
		entry.ID = id
	}
	if entry.ID != id {
		h.writeError(w, http.StatusBadRequest, "body id does not match path id")
		return
	}
	if err := h.index.Upsert(entry); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.invalidate(r.Context())
	h.writeJSON(w, http.StatusOK, map[string]any{"id": id, "result": "indexed"})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	entry, found := h.index.Get(id)
	if !found {
		h.writeError(w, http.StatusNotFound, fmt.Sprintf("document %d is not indexed", id))
		return
	}
	h.writeJSON(w, http.StatusOK, entry)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if !h.index.Delete(id) {
		h.writeError(w, http.StatusNotFound, fmt.Sprintf("document %d is not indexed", id))
		return
	}
	h.invalidate(r.Context())
	h.writeJSON(w, http.StatusOK, map[string]any{"id": id, "result": "deleted"})
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	query := r.URL.Query().Get("q")
	if query == "" {
		h.writeError(w, http.StatusBadRequest, "query parameter 'q' is required")
		return
	}
	limit, err := h.limit(r.URL.Query().Get("limit"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	plan := parser.Parse(query, h.opts.MinimumShouldMatch)
	if len(plan.Terms) == 0 {
		h.writeJSON(w, http.StatusOK, &executor.SearchResult{Query: query, Hits: []document.SearchHit{}})
		return
	}

	result, cacheStatus, err := h.execute(r.Context(), query, plan, limit)
	log := logger.FromContext(r.Context())
	if err != nil {
		h.metrics.ObserveSearch("error", cacheStatus, time.Since(start))
		log.Error("search execution failed", "query", query, "error", err)
		h.writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	result.Query = query

	outcome := "hits"
	if result.TotalHits == 0 {
		outcome = "empty"
	}
	h.metrics.ObserveSearch(outcome, cacheStatus, time.Since(start))
	log.Info("search completed",
		"query", query,
		"total_hits", result.TotalHits,
		"returned", len(result.Hits),
		"cache", cacheStatus,
		"latency_ms", time.Since(start).Milliseconds(),
	)
	h.writeJSON(w, http.StatusOK, result)
}

// limit parses the limit parameter, capping it at MaxResults.
func (h *Handler) limit(raw string) (int, error) {
	if raw == "" {
		return h.opts.DefaultLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, errors.New("limit must be a positive integer")
	}
	return min(n, h.opts.MaxResults), nil
}

// execute answers from the cache when one is configured. The returned
// status is one of disabled, hit or miss.
func (h *Handler) execute(ctx context.Context, query string, plan *parser.QueryPlan, limit int) (*executor.SearchResult, string, error) {
	if h.cache == nil {
		result, err := h.executor.Execute(ctx, plan, limit)
		return result, "disabled", err
	}
	result, hit, err := h.cache.GetOrCompute(ctx, query, limit, func() (*executor.SearchResult, error) {
		return h.executor.Execute(ctx, plan, limit)
	})
	if hit {
		return result, "hit", err
	}
	return result, "miss", err
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}
	hits, misses := h.cache.Stats()
	rate := 0.0
	if total := hits + misses; total > 0 {
		rate = 100 * float64(hits) / float64(total)
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     hits,
		"misses":   misses,
		"total":    hits + misses,
		"hit_rate": fmt.Sprintf("%.1f%%", rate),
	})
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeError(w, http.StatusServiceUnavailable, "caching is disabled")
		return
	}

	if err := h.cache.Purge(r.Context()); err != nil {
		h.logger.Error("cache purge failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

// invalidate clears cached responses after a write. A failure only leaves
// stale entries until their TTL expires.
func (h *Handler) invalidate(ctx context.Context) {
	if h.cache == nil {
		return
	}
	if err := h.cache.Invalidate(ctx); err != nil {
		h.logger.Warn("cache invalidation after write failed", "error", err)
	}
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		h.writeError(w, http.StatusBadRequest, "id must be a positive integer")
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

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
