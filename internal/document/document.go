// Package document holds the pipeline's data model: the Document row, the
// patch applied by updates, the search-index entry and the events exchanged
// over the bus.
package document

import (
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Document is one uploaded file as recorded by the metadata store.
type Document struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	StorageKey string    `json:"storageKey"`
	UploadedAt time.Time `json:"uploadedAt"`
	OcrText    *string   `json:"ocrText"`
}

// Finalized reports whether the blob write completed for d.
func (d *Document) Finalized() bool {
	return d.StorageKey != ""
}

// Apply copies the non-nil fields of p onto d.
func (d *Document) Apply(p Patch) {
	if p.Name != nil {
		d.Name = *p.Name
	}
	if p.OcrText != nil {
		text := *p.OcrText
		d.OcrText = &text
	}
}

// IndexEntry returns the search-index view of d.
func (d *Document) IndexEntry() IndexEntry {
	return IndexEntry{ID: d.ID, Name: d.Name, OcrText: d.OcrText}
}

// Patch is a partial update. Nil fields are left unchanged.
type Patch struct {
	Name    *string `json:"name,omitempty"`
	OcrText *string `json:"ocrText,omitempty"`
}

// Empty reports whether p changes nothing.
func (p Patch) Empty() bool {
	return p.Name == nil && p.OcrText == nil
}

// IndexEntry is the document shape stored in the search index.
type IndexEntry struct {
	ID      int64   `json:"id"`
	Name    string  `json:"name"`
	OcrText *string `json:"ocrText"`
}

// SearchHit is one ranked search result.
type SearchHit struct {
	ID    int64   `json:"id"`
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

// StorageKey derives the object-store key for a document.
func StorageKey(id int64, name string) string {
	return strconv.FormatInt(id, 10) + "_" + name
}

// Kind classifies a file for text extraction.
type Kind int

const (
	KindUnsupported Kind = iota
	KindPDF
	KindImage
)

func (k Kind) String() string {
	switch k {
	case KindPDF:
		return "pdf"
	case KindImage:
		return "image"
	default:
		return "unsupported"
	}
}

// KindOf classifies name by its extension, ignoring case.
func KindOf(name string) Kind {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return KindPDF
	case ".png", ".jpg", ".jpeg":
		return KindImage
	default:
		return KindUnsupported
	}
}

// ContentTypeFor returns the MIME type recorded for name in the object store.
func ContentTypeFor(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return "application/pdf"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	default:
		return "application/octet-stream"
	}
}
