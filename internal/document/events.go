package document

import (
	"strconv"
	"time"
)

// UploadedEvent announces a finalized upload. The OCR worker consumes it.
type UploadedEvent struct {
	DocumentID int64     `json:"documentId"`
	StorageKey string    `json:"storageKey"`
	UploadedAt time.Time `json:"uploadedAt"`
}

// ProcessedEvent reports successful text extraction.
type ProcessedEvent struct {
	DocumentID  int64     `json:"documentId"`
	Text        string    `json:"text"`
	ProcessedAt time.Time `json:"processedAt"`
}

// FailedEvent reports a terminal extraction failure for one document.
type FailedEvent struct {
	DocumentID  int64     `json:"documentId"`
	Error       string    `json:"error"`
	ProcessedAt time.Time `json:"processedAt"`
}

// EventKey is the bus message key for a document's events, so all events for
// one document land on the same partition.
func EventKey(id int64) string {
	return strconv.FormatInt(id, 10)
}

// ParseEventKey recovers a document id from a message key.
func ParseEventKey(key []byte) (int64, bool) {
	id, err := strconv.ParseInt(string(key), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
