package errors

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"testing"
)

func TestWrapMatchesKindAndCause(t *testing.T) {
	err := Wrap(ErrStorage, io.ErrUnexpectedEOF, "writing blob 1_a.pdf")
	if !errors.Is(err, ErrStorage) {
		t.Fatalf("expected ErrStorage in chain, got %v", err)
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected cause in chain, got %v", err)
	}
	if errors.Is(err, ErrIndex) {
		t.Fatalf("unexpected ErrIndex match for %v", err)
	}
}

func TestWrapNilCause(t *testing.T) {
	if err := Wrap(ErrIndex, nil, "noop"); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestOcrRefinements(t *testing.T) {
	if !errors.Is(ErrUnsupportedFormat, ErrOcr) {
		t.Error("unsupported format should be an OCR error")
	}
	if !errors.Is(ErrEmptyResult, ErrOcr) {
		t.Error("empty result should be an OCR error")
	}
	if errors.Is(ErrEmptyResult, ErrUnsupportedFormat) {
		t.Error("empty result must not match unsupported format")
	}
}

func TestHTTPStatusCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", New(ErrNotFound, "document 7"), http.StatusNotFound},
		{"validation", New(ErrValidation, "name required"), http.StatusBadRequest},
		{"wrapped not found", fmt.Errorf("loading: %w", New(ErrNotFound, "x")), http.StatusNotFound},
		{"storage", Wrap(ErrStorage, io.EOF, "put"), http.StatusInternalServerError},
		{"index", New(ErrIndex, "upsert"), http.StatusInternalServerError},
		{"plain", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HTTPStatusCode(tt.err); got != tt.want {
				t.Errorf("HTTPStatusCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestKindOfUsesOutermostAppError(t *testing.T) {
	inner := Wrap(ErrMetadata, io.EOF, "insert")
	outer := Wrap(ErrStorage, inner, "provisional row")
	if got := KindOf(outer); got != "storage" {
		t.Fatalf("KindOf() = %q, want storage", got)
	}
	if !errors.Is(outer, ErrMetadata) {
		t.Fatal("metadata cause should remain visible")
	}
	if got := KindOf(Wrap(ErrOcr, ErrEmptyResult, "doc 3")); got != "ocr" {
		t.Fatalf("KindOf() = %q, want ocr", got)
	}
	if got := KindOf(ErrUnsupportedFormat); got != "unsupported_format" {
		t.Fatalf("KindOf() = %q, want unsupported_format", got)
	}
}
