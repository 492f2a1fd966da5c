// Package tracing records saga timelines. A saga opens a root span, each
// step and compensation opens a child, and the finished tree is written to
// slog with one record per span.
package tracing

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

type spanKey struct{}

// Span is one timed unit of work. Children share the root's trace id.
type Span struct {
	name    string
	traceID string
	parent  *Span
	start   time.Time

	mu       sync.Mutex
	elapsed  time.Duration
	ended    bool
	err      error
	attrs    []slog.Attr
	children []*Span
}

// StartSpan opens a root span under traceID, or a fresh UUID when empty.
func StartSpan(ctx context.Context, name, traceID string) (context.Context, *Span) {
	if traceID == "" {
		traceID = uuid.NewString()
	}
	s := &Span{name: name, traceID: traceID, start: time.Now()}
	return context.WithValue(ctx, spanKey{}, s), s
}

// StartChildSpan opens a span under the one carried by ctx. With no parent
// in ctx it behaves like StartSpan with a new trace id.
func StartChildSpan(ctx context.Context, name string) (context.Context, *Span) {
	parent := FromContext(ctx)
	if parent == nil {
		return StartSpan(ctx, name, "")
	}
	s := &Span{name: name, traceID: parent.traceID, parent: parent, start: time.Now()}
	parent.mu.Lock()
	parent.children = append(parent.children, s)
	parent.mu.Unlock()
	return context.WithValue(ctx, spanKey{}, s), s
}

func FromContext(ctx context.Context) *Span {
	s, _ := ctx.Value(spanKey{}).(*Span)
	return s
}

func (s *Span) TraceID() string { return s.traceID }

// End stops the clock and records err. Only the first call counts. It
// returns err so a step can finish with `return span.End(err)`.
func (s *Span) End(err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ended {
		s.ended = true
		s.elapsed = time.Since(s.start)
		s.err = err
	}
	return err
}

func (s *Span) SetAttr(key string, value any) {
	s.mu.Lock()
	s.attrs = append(s.attrs, slog.Any(key, value))
	s.mu.Unlock()
}

// Failed reports whether s or any span below it ended with an error.
func (s *Span) Failed() bool {
	failed := false
	s.walk(func(sp *Span, _ int) {
		if sp.err != nil {
			failed = true
		}
	})
	return failed
}

// Log writes one record per span, parents before children. Offsets are
// relative to the root's start.
func (s *Span) Log(ctx context.Context, logger *slog.Logger, level slog.Level) {
	if !logger.Enabled(ctx, level) {
		return
	}
	s.walk(func(sp *Span, depth int) {
		attrs := []slog.Attr{
			slog.String("trace_id", sp.traceID),
			slog.String("span", sp.name),
			slog.Int("depth", depth),
			slog.Int64("offset_ms", sp.start.Sub(s.start).Milliseconds()),
			slog.Int64("duration_ms", sp.elapsed.Milliseconds()),
		}
		if sp.parent != nil {
			attrs = append(attrs, slog.String("parent", sp.parent.name))
		}
		if sp.err != nil {
			attrs = append(attrs, slog.String("error", sp.err.Error()))
		}
		attrs = append(attrs, sp.attrs...)
		logger.LogAttrs(ctx, level, "span", attrs...)
	})
}

// walk visits the tree depth first. fn sees a span while its lock is held.
func (s *Span) walk(fn func(sp *Span, depth int)) {
	var visit func(sp *Span, depth int)
	visit = func(sp *Span, depth int) {
		sp.mu.Lock()
		fn(sp, depth)
		children := append([]*Span(nil), sp.children...)
		sp.mu.Unlock()
		for _, c := range children {
			visit(c, depth+1)
		}
	}
	visit(s, 0)
}
