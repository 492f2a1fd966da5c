// Package errors defines the pipeline's error taxonomy. Every failure that
// leaves a saga or the OCR worker is an AppError whose Err is one of the
// sentinels below, so callers can branch with errors.Is and the HTTP layer can
// map a status code without string matching.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound   = errors.New("document not found")
	ErrValidation = errors.New("validation failed")
	ErrStorage    = errors.New("object storage failure")
	ErrMetadata   = errors.New("metadata store failure")
	ErrIndex      = errors.New("search index failure")
	ErrBus        = errors.New("event bus failure")
	ErrOcr        = errors.New("text extraction failure")

	ErrUnsupportedFormat = fmt.Errorf("%w: unsupported format", ErrOcr)
	ErrEmptyResult       = fmt.Errorf("%w: empty result", ErrOcr)
)

// AppError tags a cause with the stage that failed.
type AppError struct {
	Err     error
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Err.Error(), e.Message, e.Cause)
}

// Unwrap exposes both the sentinel and the cause to errors.Is / errors.As.
func (e *AppError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

func New(sentinel error, message string) *AppError {
	return &AppError{
		Err:     sentinel,
		Message: message,
	}
}

func Newf(sentinel error, format string, args ...any) *AppError {
	return &AppError{
		Err:     sentinel,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap attaches cause to a new AppError of the given kind. A nil cause
// returns nil so call sites can wrap unconditionally.
func Wrap(sentinel error, cause error, message string) error {
	if cause == nil {
		return nil
	}
	return &AppError{
		Err:     sentinel,
		Message: message,
		Cause:   cause,
	}
}

func HTTPStatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// KindOf returns a short stable label for err, used as a metric label and
// log attribute. The outermost AppError decides the kind.
func KindOf(err error) string {
	if err == nil {
		return "none"
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return kindLabel(appErr.Err)
	}
	return kindLabel(err)
}

func kindLabel(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrUnsupportedFormat):
		return "unsupported_format"
	case errors.Is(err, ErrEmptyResult):
		return "empty_result"
	case errors.Is(err, ErrOcr):
		return "ocr"
	case errors.Is(err, ErrStorage):
		return "storage"
	case errors.Is(err, ErrMetadata):
		return "metadata"
	case errors.Is(err, ErrIndex):
		return "index"
	case errors.Is(err, ErrBus):
		return "bus"
	default:
		return "internal"
	}
}
