package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmgilman/go/fs/billy"
	"github.com/jmgilman/go/fs/core"

	"github.com/jonwraymond/xpersist/fingerprint"
)

const (
	objectsDir = "objects"
	tmpDir     = "tmp"
	entryFile  = "entry.json"

	dirPerm  fs.FileMode = 0o755
	filePerm fs.FileMode = 0o644
)

// FSConfig configures an FSStore.
type FSConfig struct {
	// GenerationGrace is how long a superseded generation is kept after it
	// was written, so concurrent readers can finish. A negative value
	// prunes superseded generations immediately.
	// Default: 1m
	GenerationGrace time.Duration

	// Sync flushes artifact files to stable storage before commit when the
	// underlying file supports it.
	// Default: false
	Sync bool
}

// FSStore stores entries on a core.FS using the layout:
//
//	objects/<hex[:2]>/<hex>/entry.json     pointer to the current generation
//	objects/<hex[:2]>/<hex>/<generation>/  artifact files
//	tmp/<generation>/                      staged writes
//
// Publishing a generation is a rename of entry.json, which is atomic on
// local filesystems.
type FSStore struct {
	fs     core.FS
	config FSConfig

	mu     sync.RWMutex
	closed bool
}

// NewFS creates a backend on fsys, creating the layout directories.
func NewFS(fsys core.FS, config FSConfig) (*FSStore, error) {
	if config.GenerationGrace == 0 {
		config.GenerationGrace = time.Minute
	}
	for _, dir := range []string{objectsDir, tmpDir} {
		if err := fsys.MkdirAll(dir, dirPerm); err != nil {
			return nil, unavailable("init", "", err)
		}
	}
	return &FSStore{fs: fsys, config: config}, nil
}

// NewLocal creates a backend rooted at dir on the local disk.
func NewLocal(dir string, config FSConfig) (*FSStore, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, unavailable("init", "", err)
	}
	local := billy.NewLocal()
	if err := local.MkdirAll(abs, dirPerm); err != nil {
		return nil, unavailable("init", "", err)
	}
	rooted, err := local.Chroot(abs)
	if err != nil {
		return nil, unavailable("init", "", err)
	}
	return NewFS(rooted, config)
}

// Kind returns KindLocal for local disks and KindMemory otherwise.
func (s *FSStore) Kind() Kind {
	if s.fs.Type() == core.FSTypeMemory {
		return KindMemory
	}
	return KindLocal
}

func (s *FSStore) check() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func entryDir(fp fingerprint.Fingerprint) string {
	hex := fp.Hex()
	return path.Join(objectsDir, hex[:2], hex)
}

// Exists reports whether fp has a committed entry.
func (s *FSStore) Exists(_ context.Context, fp fingerprint.Fingerprint) (bool, error) {
	if err := s.check(); err != nil {
		return false, err
	}
	if err := fp.Validate(); err != nil {
		return false, err
	}
	ok, err := s.fs.Exists(path.Join(entryDir(fp), entryFile))
	if err != nil {
		return false, unavailable("exists", fp, err)
	}
	return ok, nil
}

// ReadMetadata returns the committed entry or nil on miss.
func (s *FSStore) ReadMetadata(_ context.Context, fp fingerprint.Fingerprint) (*Entry, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if err := fp.Validate(); err != nil {
		return nil, err
	}
	return s.readPointer(fp)
}

func (s *FSStore) readPointer(fp fingerprint.Fingerprint) (*Entry, error) {
	data, err := s.fs.ReadFile(path.Join(entryDir(fp), entryFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("read metadata", fp, err)
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, unavailable("read metadata", fp, fmt.Errorf("decode %s: %w", entryFile, err))
	}
	return &e, nil
}

// OpenForWrite stages a new generation under tmp/.
func (s *FSStore) OpenForWrite(_ context.Context, fp fingerprint.Fingerprint) (WriteHandle, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if err := fp.Validate(); err != nil {
		return nil, err
	}
	gen := uuid.NewString()
	staging := path.Join(tmpDir, gen)
	if err := s.fs.MkdirAll(staging, dirPerm); err != nil {
		return nil, unavailable("open for write", fp, err)
	}
	return &fsWriter{store: s, fp: fp, generation: gen, staging: staging}, nil
}

// OpenForRead binds a handle to the generation current at open time.
func (s *FSStore) OpenForRead(_ context.Context, fp fingerprint.Fingerprint) (ReadHandle, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if err := fp.Validate(); err != nil {
		return nil, err
	}
	e, err := s.readPointer(fp)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, fp)
	}
	return &fsReader{fs: s.fs, entry: *e, dir: path.Join(entryDir(fp), e.Generation)}, nil
}

// Delete hides the entry by removing its pointer, then removes its data.
// Idempotent - no error on miss.
func (s *FSStore) Delete(_ context.Context, fp fingerprint.Fingerprint) error {
	if err := s.check(); err != nil {
		return err
	}
	if err := fp.Validate(); err != nil {
		return err
	}
	dir := entryDir(fp)
	if err := s.fs.Remove(path.Join(dir, entryFile)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return unavailable("delete", fp, err)
	}
	if err := s.fs.RemoveAll(dir); err != nil {
		return unavailable("delete", fp, err)
	}
	return nil
}

// List returns committed entries. Directories without a readable pointer
// are not entries and are skipped.
func (s *FSStore) List(ctx context.Context) ([]Entry, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	shards, err := s.fs.ReadDir(objectsDir)
	if err != nil {
		return nil, unavailable("list", "", err)
	}
	var out []Entry
	for _, shard := range shards {
		if !shard.IsDir() {
			continue
		}
		dirs, err := s.fs.ReadDir(path.Join(objectsDir, shard.Name()))
		if err != nil {
			return nil, unavailable("list", "", err)
		}
		for _, d := range dirs {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			fp, err := fingerprint.Parse(d.Name())
			if err != nil {
				continue
			}
			e, err := s.readPointer(fp)
			if err != nil || e == nil {
				continue
			}
			out = append(out, *e)
		}
	}
	slices.SortFunc(out, func(a, b Entry) int { return strings.Compare(string(a.Fingerprint), string(b.Fingerprint)) })
	return out, nil
}

// Ping writes and removes a probe file.
func (s *FSStore) Ping(_ context.Context) error {
	if err := s.check(); err != nil {
		return err
	}
	probe := path.Join(tmpDir, ".ping-"+uuid.NewString())
	if err := s.fs.WriteFile(probe, []byte("ok"), filePerm); err != nil {
		return unavailable("ping", "", err)
	}
	if err := s.fs.Remove(probe); err != nil {
		return unavailable("ping", "", err)
	}
	return nil
}

// Sweep removes staged generations older than olderThan that were never
// committed or aborted.
func (s *FSStore) Sweep(ctx context.Context, olderThan time.Duration) (int, error) {
	if err := s.check(); err != nil {
		return 0, err
	}
	entries, err := s.fs.ReadDir(tmpDir)
	if err != nil {
		return 0, unavailable("sweep", "", err)
	}
	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for _, d := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		info, err := d.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := s.fs.RemoveAll(path.Join(tmpDir, d.Name())); err != nil {
			return removed, unavailable("sweep", "", err)
		}
		removed++
	}
	return removed, nil
}

// Close marks the store closed. The filesystem is left as is.
func (s *FSStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// publish moves the staged generation into place and swaps the pointer.
func (s *FSStore) publish(fp fingerprint.Fingerprint, staging string, e Entry) error {
	dir := entryDir(fp)
	if err := s.fs.MkdirAll(dir, dirPerm); err != nil {
		return err
	}
	if err := s.fs.Rename(staging, path.Join(dir, e.Generation)); err != nil {
		return err
	}

	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return err
	}
	tmpPointer := path.Join(tmpDir, e.Generation+"."+entryFile)
	if err := s.fs.WriteFile(tmpPointer, data, filePerm); err != nil {
		_ = s.fs.RemoveAll(path.Join(dir, e.Generation))
		return err
	}
	if err := s.fs.Rename(tmpPointer, path.Join(dir, entryFile)); err != nil {
		_ = s.fs.Remove(tmpPointer)
		_ = s.fs.RemoveAll(path.Join(dir, e.Generation))
		return err
	}
	return nil
}

// prune removes generations other than keep that are older than the grace
// period. Failures are ignored; a later write retries.
func (s *FSStore) prune(fp fingerprint.Fingerprint, keep ...string) {
	dir := entryDir(fp)
	entries, err := s.fs.ReadDir(dir)
	if err != nil {
		return
	}
	cutoff := time.Now().Add(-s.config.GenerationGrace)
	for _, d := range entries {
		if !d.IsDir() || slices.Contains(keep, d.Name()) {
			continue
		}
		if info, err := d.Info(); err == nil && info.ModTime().After(cutoff) {
			continue
		}
		_ = s.fs.RemoveAll(path.Join(dir, d.Name()))
	}
}

type fsWriter struct {
	store      *FSStore
	fp         fingerprint.Fingerprint
	generation string
	staging    string

	mu    sync.Mutex
	files []string
	open  []*fsFile
	bytes int64
	done  bool
}

func (w *fsWriter) Fingerprint() fingerprint.Fingerprint { return w.fp }

func (w *fsWriter) Create(name string) (io.WriteCloser, error) {
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
	f, err := w.store.fs.OpenFile(path.Join(w.staging, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, filePerm)
	if err != nil {
		return nil, unavailable("create", w.fp, err)
	}
	ff := &fsFile{w: w, f: f, sync: w.store.config.Sync}
	w.files = append(w.files, name)
	w.open = append(w.open, ff)
	return ff, nil
}

func (w *fsWriter) Commit(ctx context.Context, meta Entry) (Entry, error) {
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
			return Entry{}, unavailable("commit", w.fp, err)
		}
	}
	if err := ctx.Err(); err != nil {
		_ = w.Abort()
		return Entry{}, err
	}

	w.mu.Lock()
	w.done = true
	entry := cloneEntry(meta)
	entry.Fingerprint = w.fp
	entry.Generation = w.generation
	entry.Files = slices.Clone(w.files)
	entry.StoredBytes = w.bytes
	w.mu.Unlock()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	if err := w.store.check(); err != nil {
		_ = w.store.fs.RemoveAll(w.staging)
		return Entry{}, err
	}
	previous, _ := w.store.readPointer(w.fp)
	if err := w.store.publish(w.fp, w.staging, entry); err != nil {
		_ = w.store.fs.RemoveAll(w.staging)
		return Entry{}, unavailable("commit", w.fp, err)
	}

	keep := []string{entry.Generation}
	if previous != nil {
		keep = append(keep, previous.Generation)
	}
	w.store.prune(w.fp, keep...)
	return entry, nil
}

func (w *fsWriter) Abort() error {
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
		_ = f.Close()
	}
	if err := w.store.fs.RemoveAll(w.staging); err != nil {
		return unavailable("abort", w.fp, err)
	}
	return nil
}

type fsFile struct {
	w      *fsWriter
	f      core.File
	sync   bool
	closed bool
}

func (f *fsFile) Write(p []byte) (int, error) {
	if f.closed {
		return 0, ErrClosed
	}
	n, err := f.f.Write(p)
	f.w.mu.Lock()
	f.w.bytes += int64(n)
	f.w.mu.Unlock()
	return n, err
}

func (f *fsFile) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true
	if f.sync {
		if s, ok := f.f.(core.Syncer); ok {
			if err := s.Sync(); err != nil {
				_ = f.f.Close()
				return err
			}
		}
	}
	return f.f.Close()
}

type fsReader struct {
	fs    core.FS
	entry Entry
	dir   string
}

func (r *fsReader) Entry() Entry { return cloneEntry(r.entry) }

func (r *fsReader) Open(name string) (io.ReadCloser, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	f, err := r.fs.Open(path.Join(r.dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: artifact %q of %s", ErrNotFound, name, r.entry.Fingerprint.Short())
	}
	if err != nil {
		return nil, unavailable("open", r.entry.Fingerprint, err)
	}
	return f, nil
}

func (r *fsReader) Close() error { return nil }

var (
	_ Backend = (*FSStore)(nil)
	_ Pinger  = (*FSStore)(nil)
	_ Sweeper = (*FSStore)(nil)
)
