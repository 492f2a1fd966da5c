package index

import "github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/internal/document"

// Field names a searchable document field.
type Field string

const (
	FieldName    Field = "name"
	FieldOcrText Field = "ocrText"
)

// Fields lists every indexed field.
var Fields = []Field{FieldName, FieldOcrText}

// Posting records how often a term occurs in one document field.
type Posting struct {
	DocID     int64
	Frequency int
}

type PostingList []Posting

// FieldStats summarises one field across the index, for BM25 normalisation.
type FieldStats struct {
	DocCount     int
	AvgDocLength float64
}

func fieldText(entry document.IndexEntry, f Field) string {
	switch f {
	case FieldName:
		return entry.Name
	case FieldOcrText:
		if entry.OcrText != nil {
			return *entry.OcrText
		}
	}
	return ""
}
