package store

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jonwraymond/xpersist/fingerprint"
)

// MemoryStore is an in-memory backend. Entries live for the lifetime of the
// process.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[fingerprint.Fingerprint]*memoryEntry
	closed  bool
}

// memoryEntry is immutable once published. Replacing an entry swaps the
// pointer, so read handles opened earlier keep seeing their generation.
type memoryEntry struct {
	entry Entry
	files map[string][]byte
}

// NewMemoryStore creates an empty in-memory backend.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[fingerprint.Fingerprint]*memoryEntry),
	}
}

// Kind returns KindMemory.
func (s *MemoryStore) Kind() Kind { return KindMemory }

func (s *MemoryStore) get(fp fingerprint.Fingerprint) (*memoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	return s.entries[fp], nil
}

// Exists reports whether fp has a committed entry.
func (s *MemoryStore) Exists(_ context.Context, fp fingerprint.Fingerprint) (bool, error) {
	e, err := s.get(fp)
	return e != nil, err
}

// ReadMetadata returns the committed entry or nil on miss.
func (s *MemoryStore) ReadMetadata(_ context.Context, fp fingerprint.Fingerprint) (*Entry, error) {
	e, err := s.get(fp)
	if err != nil || e == nil {
		return nil, err
	}
	entry := cloneEntry(e.entry)
	return &entry, nil
}

// OpenForWrite stages a new generation in memory.
func (s *MemoryStore) OpenForWrite(_ context.Context, fp fingerprint.Fingerprint) (WriteHandle, error) {
	if err := fp.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.get(fp); err != nil {
		return nil, err
	}
	return &memoryWriter{
		store:      s,
		fp:         fp,
		generation: uuid.NewString(),
		files:      make(map[string][]byte),
	}, nil
}

// OpenForRead returns a handle bound to the current generation.
func (s *MemoryStore) OpenForRead(_ context.Context, fp fingerprint.Fingerprint) (ReadHandle, error) {
	e, err := s.get(fp)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, fp)
	}
	return &memoryReader{e: e}, nil
}

// Delete removes an entry. Idempotent - no error on miss.
func (s *MemoryStore) Delete(_ context.Context, fp fingerprint.Fingerprint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	delete(s.entries, fp)
	return nil
}

// List returns all committed entries ordered by fingerprint.
func (s *MemoryStore) List(_ context.Context) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := make([]Entry, 0, len(s.entries))
	for _, fp := range slices.Sorted(maps.Keys(s.entries)) {
		out = append(out, cloneEntry(s.entries[fp].entry))
	}
	return out, nil
}

// Ping fails once the store is closed.
func (s *MemoryStore) Ping(_ context.Context) error {
	_, err := s.get("")
	return err
}

// Close drops all entries.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.entries = nil
	return nil
}

func (s *MemoryStore) publish(fp fingerprint.Fingerprint, e *memoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.entries[fp] = e
	return nil
}

type memoryWriter struct {
	store      *MemoryStore
	fp         fingerprint.Fingerprint
	generation string

	mu    sync.Mutex
	files map[string][]byte
	order []string
	open  map[string]*memoryFile
	done  bool
}

func (w *memoryWriter) Fingerprint() fingerprint.Fingerprint { return w.fp }

func (w *memoryWriter) Create(name string) (io.WriteCloser, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return nil, ErrClosed
	}
	if _, dup := w.files[name]; dup {
		return nil, fmt.Errorf("%w: %q already written", ErrInvalidName, name)
	}
	if _, dup := w.open[name]; dup {
		return nil, fmt.Errorf("%w: %q already open", ErrInvalidName, name)
	}
	if w.open == nil {
		w.open = make(map[string]*memoryFile)
	}
	f := &memoryFile{w: w, name: name}
	w.open[name] = f
	w.order = append(w.order, name)
	return f, nil
}

func (w *memoryWriter) Commit(_ context.Context, meta Entry) (Entry, error) {
	w.mu.Lock()
	if w.done {
		w.mu.Unlock()
		return Entry{}, ErrClosed
	}
	for name, f := range w.open {
		w.files[name] = f.buf.Bytes()
	}
	w.open = nil
	w.done = true

	var stored int64
	for _, b := range w.files {
		stored += int64(len(b))
	}
	entry := cloneEntry(meta)
	entry.Fingerprint = w.fp
	entry.Generation = w.generation
	entry.Files = slices.Clone(w.order)
	entry.StoredBytes = stored
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	files := w.files
	w.files = nil
	w.mu.Unlock()

	if err := w.store.publish(w.fp, &memoryEntry{entry: entry, files: files}); err != nil {
		return Entry{}, err
	}
	return cloneEntry(entry), nil
}

func (w *memoryWriter) Abort() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.done = true
	w.files = nil
	w.open = nil
	return nil
}

type memoryFile struct {
	w      *memoryWriter
	name   string
	buf    bytes.Buffer
	closed bool
}

func (f *memoryFile) Write(p []byte) (int, error) {
	if f.closed {
		return 0, ErrClosed
	}
	return f.buf.Write(p)
}

func (f *memoryFile) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	if f.w.done {
		return nil
	}
	f.w.files[f.name] = f.buf.Bytes()
	delete(f.w.open, f.name)
	return nil
}

type memoryReader struct {
	e *memoryEntry
}

func (r *memoryReader) Entry() Entry { return cloneEntry(r.e.entry) }

func (r *memoryReader) Open(name string) (io.ReadCloser, error) {
	b, ok := r.e.files[name]
	if !ok {
		return nil, fmt.Errorf("%w: artifact %q", ErrNotFound, name)
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (r *memoryReader) Close() error { return nil }

func cloneEntry(e Entry) Entry {
	e.Files = slices.Clone(e.Files)
	e.Attrs = maps.Clone(e.Attrs)
	return e
}

// Ensure MemoryStore implements Backend
var (
	_ Backend = (*MemoryStore)(nil)
	_ Pinger  = (*MemoryStore)(nil)
)
