// Package segment persists the index as a single snapshot file. The file is
// a fixed header, a JSON payload of the stored entries and a CRC footer.
// Postings are rebuilt from the entries on load, so the format does not
// depend on the in-memory layout.
package segment

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/internal/document"
)

const (
	MagicBytes    uint32 = 0x50445853
	FormatVersion uint32 = 1
	HeaderSize    int    = 32
	FooterSize    int    = 8

	// FileName is the snapshot's name inside the index directory.
	FileName = "index.snap"
)

// SnapshotHeader is the fixed header at the start of every snapshot.
type SnapshotHeader struct {
	Magic       uint32
	Version     uint32
	DocCount    uint32
	CreatedAt   int64
	PayloadSize int64
}

// Writer replaces the snapshot in one directory.
type Writer struct {
	dir string
}

// NewWriter creates a Writer for dir, usually <dataDir>/<indexName>.
func NewWriter(dir string) *Writer {
	return &Writer{dir: dir}
}

// Path returns the snapshot location.
func (w *Writer) Path() string {
	return filepath.Join(w.dir, FileName)
}

// Write atomically replaces the snapshot with entries. It writes a .tmp
// file, syncs it and renames it over the previous snapshot.
func (w *Writer) Write(entries []document.IndexEntry) (SnapshotHeader, error) {
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return SnapshotHeader{}, fmt.Errorf("creating snapshot directory: %w", err)
	}
	payload, err := json.Marshal(entries)
	if err != nil {
		return SnapshotHeader{}, fmt.Errorf("marshaling entries: %w", err)
	}
	header := SnapshotHeader{
		Magic:       MagicBytes,
		Version:     FormatVersion,
		DocCount:    uint32(len(entries)),
		CreatedAt:   time.Now().Unix(),
		PayloadSize: int64(len(payload)),
	}

	finalPath := w.Path()
	tmpPath := finalPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return SnapshotHeader{}, fmt.Errorf("creating temp snapshot file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(encodeHeader(header)); err != nil {
		return SnapshotHeader{}, fmt.Errorf("writing header: %w", err)
	}
	if _, err := f.Write(payload); err != nil {
		return SnapshotHeader{}, fmt.Errorf("writing payload: %w", err)
	}
	footer := make([]byte, FooterSize)
	binary.LittleEndian.PutUint32(footer[0:4], crc32.ChecksumIEEE(payload))
	if _, err := f.Write(footer); err != nil {
		return SnapshotHeader{}, fmt.Errorf("writing footer: %w", err)
	}
	if err := f.Sync(); err != nil {
		return SnapshotHeader{}, fmt.Errorf("syncing snapshot file: %w", err)
	}
	f.Close()
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return SnapshotHeader{}, fmt.Errorf("renaming snapshot file: %w", err)
	}
	return header, nil
}

func encodeHeader(h SnapshotHeader) []byte {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	binary.LittleEndian.PutUint32(buf[4:8], h.Version)
	binary.LittleEndian.PutUint32(buf[8:12], h.DocCount)
	binary.LittleEndian.PutUint64(buf[16:24], uint64(h.CreatedAt))
	binary.LittleEndian.PutUint64(buf[24:32], uint64(h.PayloadSize))
	return buf
}
