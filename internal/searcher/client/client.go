// Package client talks to the search service over HTTP. It is the
// SearchIndex the ingestion coordinator and the admin CLI use.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/internal/document"
	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/pkg/resilience"
)

// StatusError is a non-2xx answer from the search service.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("search service returned %d: %s", e.Code, e.Message)
}

type Client struct {
	baseURL string
	http    *http.Client
	retry   resilience.RetryConfig
	logger  *slog.Logger
}

func New(cfg config.SearchConfig) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.SearcherURL, "/"),
		http:    &http.Client{Timeout: timeout},
		retry: resilience.RetryConfig{
			MaxAttempts:  3,
			InitialDelay: 100 * time.Millisecond,
			MaxDelay:     time.Second,
			Retryable:    Transient,
		},
		logger: slog.Default().With("component", "search-client"),
	}
}

// Transient reports whether err is worth retrying: transport failures and
// 5xx answers are, client errors are not.
func Transient(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// Upsert stores entry under its id. Callers own retries for writes.
func (c *Client) Upsert(ctx context.Context, entry document.IndexEntry) error {
	body, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling index entry: %w", err)
	}
	return c.do(ctx, http.MethodPut, c.indexPath(entry.ID), body, nil)
}

// Delete removes id. A missing entry yields an ErrNotFound AppError.
func (c *Client) Delete(ctx context.Context, id int64) error {
	err := c.do(ctx, http.MethodDelete, c.indexPath(id), nil, nil)
	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		return apperrors.Newf(apperrors.ErrNotFound, "document %d is not indexed", id)
	}
	return err
}

// Get returns the indexed entry for id.
func (c *Client) Get(ctx context.Context, id int64) (document.IndexEntry, error) {
	var entry document.IndexEntry
	err := c.do(ctx, http.MethodGet, c.indexPath(id), nil, &entry)
	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		return entry, apperrors.Newf(apperrors.ErrNotFound, "document %d is not indexed", id)
	}
	return entry, err
}

// Search runs query and returns ranked hits. Reads are retried on
// transient failures.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]document.SearchHit, error) {
	params := url.Values{"q": {query}}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	var result struct {
		Hits []document.SearchHit `json:"hits"`
	}
	err := resilience.Retry(ctx, "search", c.retry, func(ctx context.Context) error {
		return c.do(ctx, http.MethodGet, "/api/v1/search?"+params.Encode(), nil, &result)
	})
	if err != nil {
		return nil, err
	}
	if result.Hits == nil {
		result.Hits = []document.SearchHit{}
	}
	return result.Hits, nil
}

// Ping checks the search service liveness probe.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health/live", nil, nil)
}

func (c *Client) indexPath(id int64) string {
	return "/api/v1/index/" + strconv.FormatInt(id, 10)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var payload struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(data, &payload) != nil || payload.Error == "" {
			payload.Error = strings.TrimSpace(string(data))
		}
		return &StatusError{Code: resp.StatusCode, Message: payload.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s %s response: %w", method, path, err)
	}
	return nil
}
