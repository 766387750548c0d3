package objstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/jonwraymond/xpersist/store"
)

type memoryObject struct {
	data     []byte
	modified time.Time
}

// Memory is an in-process ObjectStore. FailNext lets tests inject
// transient failures.
type Memory struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
	fail    int
	failErr error
	puts    int
}

// NewMemory creates an empty in-memory object store.
func NewMemory() *Memory {
	return &Memory{objects: make(map[string]memoryObject)}
}

// FailNext makes the next n calls return err.
func (m *Memory) FailNext(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = n
	m.failErr = err
}

// Puts returns the number of successful Put calls.
func (m *Memory) Puts() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.puts
}

// Keys returns all stored keys in sorted order.
func (m *Memory) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Sorted(maps.Keys(m.objects))
}

func (m *Memory) injected() error {
	if m.fail > 0 {
		m.fail--
		return m.failErr
	}
	return nil
}

// Put stores the object.
func (m *Memory) Put(ctx context.Context, key string, r io.Reader, _ int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected(); err != nil {
		return err
	}
	m.objects[key] = memoryObject{data: data, modified: time.Now()}
	m.puts++
	return nil
}

// Get returns a reader over the stored bytes.
func (m *Memory) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected(); err != nil {
		return nil, err
	}
	o, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrObjectNotFound, key)
	}
	return io.NopCloser(bytes.NewReader(o.data)), nil
}

// Stat describes the object.
func (m *Memory) Stat(ctx context.Context, key string) (store.ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return store.ObjectInfo{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected(); err != nil {
		return store.ObjectInfo{}, err
	}
	o, ok := m.objects[key]
	if !ok {
		return store.ObjectInfo{}, fmt.Errorf("%w: %s", store.ErrObjectNotFound, key)
	}
	return store.ObjectInfo{Key: key, Size: int64(len(o.data)), LastModified: o.modified}, nil
}

// Delete removes the object. Idempotent - no error on miss.
func (m *Memory) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected(); err != nil {
		return err
	}
	delete(m.objects, key)
	return nil
}

// List returns objects whose key starts with prefix, sorted by key.
func (m *Memory) List(ctx context.Context, prefix string) ([]store.ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected(); err != nil {
		return nil, err
	}
	var out []store.ObjectInfo
	for _, key := range slices.Sorted(maps.Keys(m.objects)) {
		if strings.HasPrefix(key, prefix) {
			o := m.objects[key]
			out = append(out, store.ObjectInfo{Key: key, Size: int64(len(o.data)), LastModified: o.modified})
		}
	}
	return out, nil
}

var _ store.ObjectStore = (*Memory)(nil)
