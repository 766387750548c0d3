package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jonwraymond/xpersist/fingerprint"
	"github.com/jonwraymond/xpersist/resilience"
)

// ObjectInfo describes one stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// ObjectStore is a flat key/object namespace such as an S3 bucket.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Atomicity: Put must make the object visible whole or not at all.
// - Errors: missing keys return ErrObjectNotFound from Get and Stat.
// Delete of a missing key is not an error.
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
}

// ObjectConfig configures an ObjectBackend.
type ObjectConfig struct {
	// Prefix is prepended to every key.
	// Default: "" (bucket root)
	Prefix string

	// Executor wraps every remote call.
	// Default: retry of retryable errors, 3 attempts
	Executor *resilience.Executor
}

// ObjectBackend stores entries in an ObjectStore using the layout:
//
//	<prefix>/<hex>/entry.json
//	<prefix>/<hex>/<generation>/<artifact>
//
// Artifacts are uploaded first; the entry becomes visible when entry.json
// is put, which object stores apply atomically per key.
type ObjectBackend struct {
	objects  ObjectStore
	prefix   string
	executor *resilience.Executor

	mu     sync.RWMutex
	closed bool
}

// NewObject creates a backend over objects.
func NewObject(objects ObjectStore, config ObjectConfig) *ObjectBackend {
	if config.Executor == nil {
		config.Executor = resilience.NewExecutor(
			resilience.WithRetry(resilience.NewRetry(resilience.RetryConfig{
				MaxAttempts: 3,
				Jitter:      true,
			})),
		)
	}
	return &ObjectBackend{
		objects:  objects,
		prefix:   strings.Trim(config.Prefix, "/"),
		executor: config.Executor,
	}
}

// Kind returns KindRemote.
func (b *ObjectBackend) Kind() Kind { return KindRemote }

func (b *ObjectBackend) check() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

func (b *ObjectBackend) key(parts ...string) string {
	return path.Join(append([]string{b.prefix}, parts...)...)
}

func (b *ObjectBackend) pointerKey(fp fingerprint.Fingerprint) string {
	return b.key(fp.Hex(), entryFile)
}

// do runs op through the executor. Remote failures other than a missing
// object are wrapped as StorageUnavailableError, both inside so the retry
// policy sees them as retryable and outside so executor errors such as an
// open circuit or a timed out attempt read as storage failures.
func (b *ObjectBackend) do(ctx context.Context, name string, fp fingerprint.Fingerprint, op func(context.Context) error) error {
	err := b.executor.Execute(ctx, func(ctx context.Context) error {
		err := op(ctx)
		if err == nil || errors.Is(err, ErrObjectNotFound) {
			return err
		}
		return unavailable(name, fp, err)
	})
	if err == nil || errors.Is(err, ErrObjectNotFound) {
		return err
	}
	return unavailable(name, fp, err)
}

// Exists reports whether fp has a committed entry.
func (b *ObjectBackend) Exists(ctx context.Context, fp fingerprint.Fingerprint) (bool, error) {
	if err := b.check(); err != nil {
		return false, err
	}
	if err := fp.Validate(); err != nil {
		return false, err
	}
	err := b.do(ctx, "exists", fp, func(ctx context.Context) error {
		_, err := b.objects.Stat(ctx, b.pointerKey(fp))
		return err
	})
	if errors.Is(err, ErrObjectNotFound) {
		return false, nil
	}
	return err == nil, err
}

// ReadMetadata returns the committed entry or nil on miss.
func (b *ObjectBackend) ReadMetadata(ctx context.Context, fp fingerprint.Fingerprint) (*Entry, error) {
	if err := b.check(); err != nil {
		return nil, err
	}
	if err := fp.Validate(); err != nil {
		return nil, err
	}
	return b.readPointer(ctx, fp)
}

func (b *ObjectBackend) readPointer(ctx context.Context, fp fingerprint.Fingerprint) (*Entry, error) {
	var data []byte
	err := b.do(ctx, "read metadata", fp, func(ctx context.Context) error {
		rc, err := b.objects.Get(ctx, b.pointerKey(fp))
		if err != nil {
			return err
		}
		defer rc.Close()
		data, err = io.ReadAll(rc)
		return err
	})
	if errors.Is(err, ErrObjectNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, unavailable("read metadata", fp, fmt.Errorf("decode %s: %w", entryFile, err))
	}
	return &e, nil
}

// OpenForWrite starts a new generation. Artifacts upload as each writer
// is closed, bound to ctx.
func (b *ObjectBackend) OpenForWrite(ctx context.Context, fp fingerprint.Fingerprint) (WriteHandle, error) {
	if err := b.check(); err != nil {
		return nil, err
	}
	if err := fp.Validate(); err != nil {
		return nil, err
	}
	return &objectWriter{backend: b, ctx: ctx, fp: fp, generation: uuid.NewString()}, nil
}

// OpenForRead binds a handle to the generation current at open time.
func (b *ObjectBackend) OpenForRead(ctx context.Context, fp fingerprint.Fingerprint) (ReadHandle, error) {
	if err := b.check(); err != nil {
		return nil, err
	}
	if err := fp.Validate(); err != nil {
		return nil, err
	}
	e, err := b.readPointer(ctx, fp)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, fp)
	}
	return &objectReader{backend: b, ctx: ctx, entry: *e}, nil
}

// Delete removes the pointer first, then the artifacts.
// Idempotent - no error on miss.
func (b *ObjectBackend) Delete(ctx context.Context, fp fingerprint.Fingerprint) error {
	if err := b.check(); err != nil {
		return err
	}
	if err := fp.Validate(); err != nil {
		return err
	}
	if err := b.deleteKey(ctx, fp, b.pointerKey(fp)); err != nil {
		return err
	}
	return b.deleteGenerations(ctx, fp, nil)
}

func (b *ObjectBackend) deleteKey(ctx context.Context, fp fingerprint.Fingerprint, key string) error {
	err := b.do(ctx, "delete", fp, func(ctx context.Context) error {
		return b.objects.Delete(ctx, key)
	})
	if errors.Is(err, ErrObjectNotFound) {
		return nil
	}
	return err
}

// deleteGenerations removes artifact objects whose generation is not in keep.
func (b *ObjectBackend) deleteGenerations(ctx context.Context, fp fingerprint.Fingerprint, keep []string) error {
	var objects []ObjectInfo
	prefix := b.key(fp.Hex()) + "/"
	err := b.do(ctx, "list", fp, func(ctx context.Context) error {
		var err error
		objects, err = b.objects.List(ctx, prefix)
		return err
	})
	if err != nil {
		return err
	}
	for _, o := range objects {
		rel := strings.TrimPrefix(o.Key, prefix)
		gen, _, nested := strings.Cut(rel, "/")
		if !nested || slices.Contains(keep, gen) {
			continue
		}
		if err := b.deleteKey(ctx, fp, o.Key); err != nil {
			return err
		}
	}
	return nil
}

// List returns every committed entry.
func (b *ObjectBackend) List(ctx context.Context) ([]Entry, error) {
	if err := b.check(); err != nil {
		return nil, err
	}
	var objects []ObjectInfo
	err := b.do(ctx, "list", "", func(ctx context.Context) error {
		var err error
		prefix := ""
		if b.prefix != "" {
			prefix = b.prefix + "/"
		}
		objects, err = b.objects.List(ctx, prefix)
		return err
	})
	if err != nil {
		return nil, err
	}

	var out []Entry
	for _, o := range objects {
		if path.Base(o.Key) != entryFile {
			continue
		}
		fp, err := fingerprint.Parse(path.Base(path.Dir(o.Key)))
		if err != nil {
			continue
		}
		e, err := b.readPointer(ctx, fp)
		if err != nil {
			return nil, err
		}
		if e != nil {
			out = append(out, *e)
		}
	}
	slices.SortFunc(out, func(a, b Entry) int { return strings.Compare(string(a.Fingerprint), string(b.Fingerprint)) })
	return out, nil
}

// Ping checks the object store. Stores implementing Pinger are asked
// directly; otherwise a List of the prefix is issued.
func (b *ObjectBackend) Ping(ctx context.Context) error {
	if err := b.check(); err != nil {
		return err
	}
	if p, ok := b.objects.(Pinger); ok {
		return unavailable("ping", "", p.Ping(ctx))
	}
	_, err := b.objects.List(ctx, b.key(".ping"))
	return unavailable("ping", "", err)
}

// Close marks the backend closed.
func (b *ObjectBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

type objectWriter struct {
	backend    *ObjectBackend
	ctx        context.Context
	fp         fingerprint.Fingerprint
	generation string

	mu       sync.Mutex
	files    []string
	uploaded []string
	open     []*objectFile
	bytes    int64
	err      error
	done     bool
}

func (w *objectWriter) Fingerprint() fingerprint.Fingerprint { return w.fp }

func (w *objectWriter) artifactKey(name string) string {
	return w.backend.key(w.fp.Hex(), w.generation, name)
}

func (w *objectWriter) Create(name string) (io.WriteCloser, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return nil, ErrClosed
	}
	if slices.Contains(w.files, name) {
		return nil, fmt.Errorf("%w: %q already written", ErrInvalidName, name)
	}
	f := &objectFile{w: w, name: name}
	w.files = append(w.files, name)
	w.open = append(w.open, f)
	return f, nil
}

// upload puts one artifact. Called from objectFile.Close.
func (w *objectWriter) upload(name string, data []byte) error {
	key := w.artifactKey(name)
	err := w.backend.do(w.ctx, "upload", w.fp, func(ctx context.Context) error {
		return w.backend.objects.Put(ctx, key, bytes.NewReader(data), int64(len(data)))
	})
	w.mu.Lock()
	defer w.mu.Unlock()
	if err != nil {
		if w.err == nil {
			w.err = err
		}
		return err
	}
	w.uploaded = append(w.uploaded, key)
	w.bytes += int64(len(data))
	return nil
}

func (w *objectWriter) Commit(ctx context.Context, meta Entry) (Entry, error) {
	w.mu.Lock()
	if w.done {
		w.mu.Unlock()
		return Entry{}, ErrClosed
	}
	open := w.open
	w.open = nil
	w.mu.Unlock()

	for _, f := range open {
		if err := f.Close(); err != nil {
			_ = w.Abort()
			return Entry{}, err
		}
	}

	w.mu.Lock()
	if w.err != nil {
		err := w.err
		w.mu.Unlock()
		_ = w.Abort()
		return Entry{}, err
	}
	w.done = true
	entry := cloneEntry(meta)
	entry.Fingerprint = w.fp
	entry.Generation = w.generation
	entry.Files = slices.Clone(w.files)
	entry.StoredBytes = w.bytes
	uploaded := slices.Clone(w.uploaded)
	w.mu.Unlock()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	b := w.backend
	cleanup := func() {
		for _, key := range uploaded {
			_ = b.deleteKey(context.WithoutCancel(ctx), w.fp, key)
		}
	}
	if err := b.check(); err != nil {
		cleanup()
		return Entry{}, err
	}

	previous, _ := b.readPointer(ctx, w.fp)
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		cleanup()
		return Entry{}, unavailable("commit", w.fp, err)
	}
	err = b.do(ctx, "commit", w.fp, func(ctx context.Context) error {
		return b.objects.Put(ctx, b.pointerKey(w.fp), bytes.NewReader(data), int64(len(data)))
	})
	if err != nil {
		cleanup()
		return Entry{}, err
	}

	keep := []string{entry.Generation}
	if previous != nil {
		keep = append(keep, previous.Generation)
	}
	_ = b.deleteGenerations(context.WithoutCancel(ctx), w.fp, keep)
	return entry, nil
}

func (w *objectWriter) Abort() error {
	w.mu.Lock()
	if w.done {
		w.mu.Unlock()
		return nil
	}
	w.done = true
	open := w.open
	w.open = nil
	w.mu.Unlock()

	for _, f := range open {
		f.discard()
	}
	w.mu.Lock()
	uploaded := slices.Clone(w.uploaded)
	w.mu.Unlock()

	var firstErr error
	for _, key := range uploaded {
		if err := w.backend.deleteKey(context.WithoutCancel(w.ctx), w.fp, key); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// objectFile buffers one artifact and uploads it on Close.
type objectFile struct {
	w      *objectWriter
	name   string
	buf    bytes.Buffer
	closed bool
}

func (f *objectFile) Write(p []byte) (int, error) {
	if f.closed {
		return 0, ErrClosed
	}
	return f.buf.Write(p)
}

func (f *objectFile) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true
	f.w.mu.Lock()
	f.w.open = slices.DeleteFunc(f.w.open, func(o *objectFile) bool { return o == f })
	done := f.w.done
	f.w.mu.Unlock()
	if done {
		return nil
	}
	err := f.w.upload(f.name, f.buf.Bytes())
	f.buf.Reset()
	return err
}

func (f *objectFile) discard() {
	f.closed = true
	f.buf.Reset()
}

type objectReader struct {
	backend *ObjectBackend
	ctx     context.Context
	entry   Entry
}

func (r *objectReader) Entry() Entry { return cloneEntry(r.entry) }

func (r *objectReader) Open(name string) (io.ReadCloser, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	key := r.backend.key(r.entry.Fingerprint.Hex(), r.entry.Generation, name)
	var rc io.ReadCloser
	err := r.backend.do(r.ctx, "open", r.entry.Fingerprint, func(ctx context.Context) error {
		var err error
		rc, err = r.backend.objects.Get(ctx, key)
		return err
	})
	if errors.Is(err, ErrObjectNotFound) {
		return nil, fmt.Errorf("%w: artifact %q of %s", ErrNotFound, name, r.entry.Fingerprint.Short())
	}
	if err != nil {
		return nil, err
	}
	return rc, nil
}

func (r *objectReader) Close() error { return nil }

var (
	_ Backend = (*ObjectBackend)(nil)
	_ Pinger  = (*ObjectBackend)(nil)
)
