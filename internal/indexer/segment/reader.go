package segment

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"

	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/internal/document"
)

// ErrNoSnapshot is returned by Read when no snapshot has been written yet.
var ErrNoSnapshot = errors.New("no snapshot")

// Read loads and verifies the snapshot at path.
func Read(path string) (SnapshotHeader, []document.IndexEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return SnapshotHeader{}, nil, ErrNoSnapshot
		}
		return SnapshotHeader{}, nil, fmt.Errorf("opening snapshot file: %w", err)
	}
	defer f.Close()

	headerBytes := make([]byte, HeaderSize)
	if _, err := io.ReadFull(f, headerBytes); err != nil {
		return SnapshotHeader{}, nil, fmt.Errorf("reading header: %w", err)
	}
	header := SnapshotHeader{
		Magic:       binary.LittleEndian.Uint32(headerBytes[0:4]),
		Version:     binary.LittleEndian.Uint32(headerBytes[4:8]),
		DocCount:    binary.LittleEndian.Uint32(headerBytes[8:12]),
		CreatedAt:   int64(binary.LittleEndian.Uint64(headerBytes[16:24])),
		PayloadSize: int64(binary.LittleEndian.Uint64(headerBytes[24:32])),
	}
	if header.Magic != MagicBytes {
		return header, nil, fmt.Errorf("invalid snapshot file: bad magic bytes %x", header.Magic)
	}
	if header.Version != FormatVersion {
		return header, nil, fmt.Errorf("unsupported snapshot version %d", header.Version)
	}
	if header.PayloadSize < 0 {
		return header, nil, fmt.Errorf("invalid payload size %d", header.PayloadSize)
	}

	payload := make([]byte, header.PayloadSize)
	if _, err := io.ReadFull(f, payload); err != nil {
		return header, nil, fmt.Errorf("reading payload: %w", err)
	}
	footer := make([]byte, FooterSize)
	if _, err := io.ReadFull(f, footer); err != nil {
		return header, nil, fmt.Errorf("reading footer: %w", err)
	}
	if want, got := binary.LittleEndian.Uint32(footer[0:4]), crc32.ChecksumIEEE(payload); want != got {
		return header, nil, fmt.Errorf("snapshot checksum mismatch: stored %08x, computed %08x", want, got)
	}

	var entries []document.IndexEntry
	if err := json.Unmarshal(payload, &entries); err != nil {
		return header, nil, fmt.Errorf("parsing entries: %w", err)
	}
	if len(entries) != int(header.DocCount) {
		return header, nil, fmt.Errorf("snapshot holds %d entries, header says %d", len(entries), header.DocCount)
	}
	return header, entries, nil
}
