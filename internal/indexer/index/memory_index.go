// Package index is the in-memory inverted index behind the search service.
// Each field keeps its own postings and length statistics; the stored
// entries are kept alongside so hits can carry the document name and the
// whole index can be snapshotted.
package index

import (
	"sort"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/internal/document"
	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/internal/indexer/tokenizer"
)

type fieldIndex struct {
	postings map[string]map[int64]int
	lengths  map[int64]int
	total    int64
}

func newFieldIndex() *fieldIndex {
	return &fieldIndex{
		postings: make(map[string]map[int64]int),
		lengths:  make(map[int64]int),
	}
}

func (f *fieldIndex) add(id int64, text string) {
	tokens := tokenizer.Tokenize(text)
	if len(tokens) == 0 {
		return
	}
	for _, tok := range tokens {
		docs, ok := f.postings[tok.Term]
		if !ok {
			docs = make(map[int64]int)
			f.postings[tok.Term] = docs
		}
		docs[id]++
	}
	f.lengths[id] = len(tokens)
	f.total += int64(len(tokens))
}

func (f *fieldIndex) remove(id int64, text string) {
	for _, term := range tokenizer.Terms(text) {
		docs := f.postings[term]
		delete(docs, id)
		if len(docs) == 0 {
			delete(f.postings, term)
		}
	}
	f.total -= int64(f.lengths[id])
	delete(f.lengths, id)
}

type MemoryIndex struct {
	mu      sync.RWMutex
	docs    map[int64]document.IndexEntry
	fields  map[Field]*fieldIndex
	version uint64
}

func NewMemoryIndex() *MemoryIndex {
	m := &MemoryIndex{
		docs:   make(map[int64]document.IndexEntry),
		fields: make(map[Field]*fieldIndex, len(Fields)),
	}
	for _, f := range Fields {
		m.fields[f] = newFieldIndex()
	}
	return m
}

// Upsert replaces any previous entry with the same id. It reports whether
// an entry was replaced.
func (m *MemoryIndex) Upsert(entry document.IndexEntry) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, existed := m.docs[entry.ID]
	if existed {
		m.removeLocked(old)
	}
	if entry.OcrText != nil {
		text := *entry.OcrText
		entry.OcrText = &text
	}
	m.docs[entry.ID] = entry
	for _, f := range Fields {
		m.fields[f].add(entry.ID, fieldText(entry, f))
	}
	m.version++
	return existed
}

// Delete removes id and reports whether it was present.
func (m *MemoryIndex) Delete(id int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.docs[id]
	if !ok {
		return false
	}
	m.removeLocked(old)
	m.version++
	return true
}

func (m *MemoryIndex) removeLocked(entry document.IndexEntry) {
	for _, f := range Fields {
		m.fields[f].remove(entry.ID, fieldText(entry, f))
	}
	delete(m.docs, entry.ID)
}

func (m *MemoryIndex) Get(id int64) (document.IndexEntry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.docs[id]
	return entry, ok
}

// Postings returns the documents containing term in field, ordered by id.
func (m *MemoryIndex) Postings(field Field, term string) PostingList {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fi, ok := m.fields[field]
	if !ok {
		return nil
	}
	docs := fi.postings[term]
	if len(docs) == 0 {
		return nil
	}
	result := make(PostingList, 0, len(docs))
	for id, freq := range docs {
		result = append(result, Posting{DocID: id, Frequency: freq})
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].DocID < result[j].DocID
	})
	return result
}

// Vocabulary returns every term indexed in field.
func (m *MemoryIndex) Vocabulary(field Field) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fi, ok := m.fields[field]
	if !ok {
		return nil
	}
	terms := make([]string, 0, len(fi.postings))
	for term := range fi.postings {
		terms = append(terms, term)
	}
	sort.Strings(terms)
	return terms
}

func (m *MemoryIndex) DocLength(field Field, id int64) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fields[field].lengths[id]
}

func (m *MemoryIndex) Stats(field Field) FieldStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fi := m.fields[field]
	stats := FieldStats{DocCount: len(m.docs)}
	if n := len(fi.lengths); n > 0 {
		stats.AvgDocLength = float64(fi.total) / float64(n)
	}
	return stats
}

// Entries returns every stored entry ordered by id.
func (m *MemoryIndex) Entries() []document.IndexEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := make([]document.IndexEntry, 0, len(m.docs))
	for _, e := range m.docs {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ID < entries[j].ID
	})
	return entries
}

func (m *MemoryIndex) DocCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}

// Version increases on every successful write. The engine compares it to
// decide whether a snapshot is stale.
func (m *MemoryIndex) Version() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.version
}

func (m *MemoryIndex) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs = make(map[int64]document.IndexEntry)
	for _, f := range Fields {
		m.fields[f] = newFieldIndex()
	}
	m.version++
}
