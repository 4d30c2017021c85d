package overlay

import (
	"fmt"
	"hash/fnv"
	"os"
	"sync"
	"time"

	"storyreel/internal/render/state"
)

// Kind distinguishes the two overlay renderers.
type Kind string

const (
	KindCaption Kind = "caption"
	KindCredit  Kind = "credit"
)

// Entry records one cached overlay artifact. Entries are never mutated in
// place, only replaced wholesale by Clear.
type Entry struct {
	FilePath  string
	CreatedAt time.Time
}

// CacheKey derives the content-addressed key for an overlay request. A fast
// string hash is enough here: a collision yields a visually wrong overlay,
// never a crash.
func CacheKey(kind Kind, text string, durationSeconds float64) string {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%s|%d", kind, text, state.RoundDecis(durationSeconds))
	return fmt.Sprintf("%016x", h.Sum64())
}

// Store is an in-memory content-addressed cache of rendered overlay files.
// It lives for the process lifetime and is owned by the orchestrator so tests
// can create independent instances.
type Store struct {
	mu      sync.Mutex
	entries map[string]Entry
}

// NewStore returns an empty cache store.
func NewStore() *Store {
	return &Store{entries: make(map[string]Entry)}
}

// Get returns the entry for a key when present and its file still exists on
// disk. A vanished file is treated as a miss and evicted.
func (s *Store) Get(key string) (Entry, bool) {
	s.mu.Lock()
	entry, ok := s.entries[key]
	s.mu.Unlock()
	if !ok {
		return Entry{}, false
	}
	if _, err := os.Stat(entry.FilePath); err != nil {
		s.mu.Lock()
		delete(s.entries, key)
		s.mu.Unlock()
		return Entry{}, false
	}
	return entry, true
}

// Put registers a fully-written file under the key. Callers must only call
// this after the file is complete so readers never observe partial output.
func (s *Store) Put(key, filePath string) {
	s.mu.Lock()
	s.entries[key] = Entry{FilePath: filePath, CreatedAt: time.Now()}
	s.mu.Unlock()
}

// Len reports the number of live entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Clear drops every entry. The caller owns removing the backing files.
func (s *Store) Clear() {
	s.mu.Lock()
	s.entries = make(map[string]Entry)
	s.mu.Unlock()
}
