// Package cache keeps search responses in Redis. Keys derive from the
// analysed query and the limit, so "Hello  world" and "world hello" share
// an entry. Every index write invalidates the whole cache by bumping a
// generation counter that is part of each key; stale generations age out
// through their TTL.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/internal/searcher/executor"
	pkgredis "github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/pkg/redis"
)

const keyPrefix = "search:"

// Backend is the subset of the Redis client the cache uses.
type Backend interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Incr(ctx context.Context, key string) (int64, error)
	Purge(ctx context.Context, prefix string) (int64, error)
}

type QueryCache struct {
	backend   Backend
	ttl       time.Duration
	indexName string
	group     singleflight.Group
	logger    *slog.Logger
	hits      atomic.Int64
	misses    atomic.Int64
}

// New builds a cache for indexName. Entries expire after ttl.
func New(backend Backend, indexName string, ttl time.Duration) *QueryCache {
	return &QueryCache{
		backend:   backend,
		ttl:       ttl,
		indexName: indexName,
		logger:    slog.Default().With("component", "query-cache"),
	}
}

func (c *QueryCache) Get(ctx context.Context, query string, limit int) (*executor.SearchResult, bool) {
	gen, err := c.generation(ctx)
	if err != nil {
		c.logger.Warn("cache generation lookup failed", "error", err)
		c.misses.Add(1)
		return nil, false
	}
	key := c.buildKey(gen, query, limit)
	data, err := c.backend.Get(ctx, key)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Warn("cache get failed", "key", key, "error", err)
		}
		c.misses.Add(1)
		return nil, false
	}
	var result executor.SearchResult
	if err := json.Unmarshal([]byte(data), &result); err != nil {
		c.logger.Warn("cache unmarshal failed", "key", key, "error", err)
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return &result, true
}

func (c *QueryCache) Set(ctx context.Context, query string, limit int, result *executor.SearchResult) {
	gen, err := c.generation(ctx)
	if err != nil {
		c.logger.Warn("cache generation lookup failed", "error", err)
		return
	}
	key := c.buildKey(gen, query, limit)
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.backend.Set(ctx, key, data, c.ttl); err != nil {
		c.logger.Warn("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns a cached result or computes it once for all
// concurrent callers with the same key. The bool reports a cache hit.
func (c *QueryCache) GetOrCompute(
	ctx context.Context,
	query string,
	limit int,
	computeFn func() (*executor.SearchResult, error),
) (*executor.SearchResult, bool, error) {
	if result, ok := c.Get(ctx, query, limit); ok {
		return result, true, nil
	}
	val, err, _ := c.group.Do(c.flightKey(query, limit), func() (any, error) {
		result, err := computeFn()
		if err != nil {
			return nil, err
		}
		c.Set(ctx, query, limit, result)
		return result, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.(*executor.SearchResult), false, nil
}

// Invalidate makes every cached response for the index unreachable.
func (c *QueryCache) Invalidate(ctx context.Context) error {
	gen, err := c.backend.Incr(ctx, c.generationKey())
	if err != nil {
		return fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Debug("cache invalidated", "generation", gen)
	return nil
}

// Purge invalidates and then deletes the stored entries instead of waiting
// for them to expire.
func (c *QueryCache) Purge(ctx context.Context) error {
	if err := c.Invalidate(ctx); err != nil {
		return err
	}
	removed, err := c.backend.Purge(ctx, c.entryPrefix())
	if err != nil {
		return fmt.Errorf("purging cache: %w", err)
	}
	c.logger.Info("cache purged", "keys_deleted", removed)
	return nil
}

func (c *QueryCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *QueryCache) generation(ctx context.Context) (int64, error) {
	v, err := c.backend.Get(ctx, c.generationKey())
	if pkgredis.IsNilError(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(v, 10, 64)
}

func (c *QueryCache) generationKey() string {
	return keyPrefix + c.indexName + ":gen"
}

func (c *QueryCache) entryPrefix() string {
	return keyPrefix + c.indexName + ":e:"
}

func (c *QueryCache) flightKey(query string, limit int) string {
	hash := sha256.Sum256(fmt.Appendf(nil, "%s:limit=%d", normalizeQuery(query), limit))
	return fmt.Sprintf("%x", hash[:16])
}

func (c *QueryCache) buildKey(gen int64, query string, limit int) string {
	return c.entryPrefix() + strconv.FormatInt(gen, 10) + ":" + c.flightKey(query, limit)
}

func normalizeQuery(query string) string {
	terms := tokenizer.Terms(query)
	sort.Strings(terms)
	return strings.Join(terms, ",")
}
