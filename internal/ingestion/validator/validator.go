// Package validator checks upload and patch requests before they reach the
// coordinator and returns per-field error details.
package validator

import (
	"fmt"
	"mime"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/internal/document"
	apperrors "github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/pkg/errors"
)

const maxNameLength = 255

var allowedContentTypes = map[string]bool{
	"application/pdf": true,
	"image/png":       true,
	"image/jpeg":      true,
}

// ValidationError holds per-field validation failure messages. It matches
// apperrors.ErrValidation.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	fields := make([]string, 0, len(e.Fields))
	for field := range e.Fields {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		parts = append(parts, fmt.Sprintf("%s:%s", field, e.Fields[field]))
	}
	return strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return apperrors.ErrValidation }

// Upload describes an incoming file before its content is read.
type Upload struct {
	Name        string
	ContentType string
	Size        int64
}

// ResolvedContentType returns the effective MIME type of u: the declared type
// without parameters, or the type implied by the file extension when the
// client sent none or a generic one.
func (u Upload) ResolvedContentType() string {
	declared := u.ContentType
	if mt, _, err := mime.ParseMediaType(declared); err == nil {
		declared = mt
	}
	if declared == "" || declared == "application/octet-stream" {
		return document.ContentTypeFor(u.Name)
	}
	return strings.ToLower(declared)
}

// ValidateUpload checks the file name, content type and size. maxBytes <= 0
// disables the size ceiling.
func ValidateUpload(u Upload, maxBytes int64) error {
	errs := make(map[string]string)
	if msg := checkName(u.Name); msg != "" {
		errs["name"] = msg
	}
	if ct := u.ResolvedContentType(); !allowedContentTypes[ct] {
		errs["content_type"] = fmt.Sprintf("content type %q is not supported; use application/pdf, image/png or image/jpeg", ct)
	}
	switch {
	case u.Size == 0:
		errs["file"] = "file is required and must not be empty"
	case maxBytes > 0 && u.Size > maxBytes:
		errs["file"] = fmt.Sprintf("file must be at most %d bytes", maxBytes)
	}
	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}

// ValidatePatch checks the fields present in p. An empty patch is rejected.
func ValidatePatch(p document.Patch) error {
	errs := make(map[string]string)
	if p.Empty() {
		errs["patch"] = "at least one of name or ocrText is required"
	}
	if p.Name != nil {
		if msg := checkName(*p.Name); msg != "" {
			errs["name"] = msg
		}
	}
	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}

func checkName(name string) string {
	trimmed := strings.TrimSpace(name)
	switch {
	case trimmed == "":
		return "name is required"
	case utf8.RuneCountInString(name) > maxNameLength:
		return fmt.Sprintf("name must be at most %d characters", maxNameLength)
	case strings.ContainsAny(name, "/\\"):
		return "name must not contain path separators"
	}
	return ""
}
