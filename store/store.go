package store

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jonwraymond/xpersist/fingerprint"
)

// Kind identifies a backend family.
type Kind string

// Backend kinds.
const (
	KindLocal  Kind = "local"
	KindMemory Kind = "memory"
	KindRemote Kind = "remote"
)

// MaxNameLength is the maximum length of an artifact name.
const MaxNameLength = 255

// Entry describes a persisted result. Entries are never mutated in place;
// a replacement is a new Entry with a new Generation.
type Entry struct {
	Fingerprint fingerprint.Fingerprint `json:"fingerprint"`
	Name        string                  `json:"name"`
	Version     string                  `json:"version,omitempty"`
	Serializer  string                  `json:"serializer"`
	CreatedAt   time.Time               `json:"created_at"`
	// Size is the logical size of the result as reported by the serializer.
	Size int64 `json:"size"`
	// StoredBytes is the number of bytes written to the backend.
	StoredBytes int64             `json:"stored_bytes"`
	Files       []string          `json:"files"`
	Generation  string            `json:"generation"`
	Attrs       map[string]string `json:"attrs,omitempty"`
}

// Backend is durable fingerprint-keyed storage.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Atomicity: an entry becomes visible only through WriteHandle.Commit.
// - Errors: I/O failures surface as *StorageUnavailableError; a missing
// entry is ErrNotFound from OpenForRead and (nil, nil) from ReadMetadata.
type Backend interface {
	// Exists reports whether a committed entry exists.
	Exists(ctx context.Context, fp fingerprint.Fingerprint) (bool, error)

	// ReadMetadata returns the committed entry, or nil when absent.
	ReadMetadata(ctx context.Context, fp fingerprint.Fingerprint) (*Entry, error)

	// OpenForWrite stages a new generation for fp.
	OpenForWrite(ctx context.Context, fp fingerprint.Fingerprint) (WriteHandle, error)

	// OpenForRead opens the committed entry for fp.
	OpenForRead(ctx context.Context, fp fingerprint.Fingerprint) (ReadHandle, error)

	// Delete removes the entry. Idempotent - no error on miss.
	Delete(ctx context.Context, fp fingerprint.Fingerprint) error

	// List returns every committed entry.
	List(ctx context.Context) ([]Entry, error)

	// Kind returns the backend family.
	Kind() Kind

	// Close releases backend resources.
	Close() error
}

// WriteHandle stages artifacts for one entry.
type WriteHandle interface {
	// Fingerprint returns the key being written.
	Fingerprint() fingerprint.Fingerprint

	// Create opens a new artifact for writing. Artifacts are visible only
	// after Commit.
	Create(name string) (io.WriteCloser, error)

	// Commit closes any open artifacts and atomically publishes the entry.
	// Fingerprint, Generation, Files, StoredBytes and a zero CreatedAt are
	// filled in by the backend. On error the staged data is discarded.
	Commit(ctx context.Context, meta Entry) (Entry, error)

	// Abort discards staged artifacts. It is a no-op after Commit.
	Abort() error
}

// ReadHandle reads the artifacts of one committed entry.
type ReadHandle interface {
	// Entry returns the metadata the handle was opened at.
	Entry() Entry

	// Open opens an artifact of the entry.
	Open(name string) (io.ReadCloser, error)

	// Close releases the handle.
	Close() error
}

// Pinger is implemented by backends that can verify connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Sweeper is implemented by backends that can remove abandoned temporary
// artifacts left behind by crashed writers.
type Sweeper interface {
	Sweep(ctx context.Context, olderThan time.Duration) (int, error)
}

// WithWriter opens a write handle for fp and runs fn. If fn succeeds the
// entry it returns is committed; on any error the handle is aborted.
func WithWriter(ctx context.Context, b Backend, fp fingerprint.Fingerprint, fn func(WriteHandle) (Entry, error)) (entry Entry, err error) {
	w, err := b.OpenForWrite(ctx, fp)
	if err != nil {
		return Entry{}, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = w.Abort()
		}
	}()

	meta, err := fn(w)
	if err != nil {
		return Entry{}, err
	}
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}

	entry, err = w.Commit(ctx, meta)
	if err != nil {
		return Entry{}, err
	}
	committed = true
	return entry, nil
}

// WithReader opens fp for reading, runs fn, and closes the handle.
func WithReader(ctx context.Context, b Backend, fp fingerprint.Fingerprint, fn func(ReadHandle) error) error {
	r, err := b.OpenForRead(ctx, fp)
	if err != nil {
		return err
	}
	defer r.Close()
	return fn(r)
}

// ValidateName checks that name is a plain artifact file name.
func ValidateName(name string) error {
	switch {
	case name == "" || strings.TrimSpace(name) != name:
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	case len(name) > MaxNameLength:
		return fmt.Errorf("%w: %q exceeds %d characters", ErrInvalidName, name, MaxNameLength)
	case strings.HasPrefix(name, "."):
		return fmt.Errorf("%w: %q is hidden", ErrInvalidName, name)
	case strings.ContainsAny(name, "/\\\x00\n\r"):
		return fmt.Errorf("%w: %q contains a separator", ErrInvalidName, name)
	}
	return nil
}
