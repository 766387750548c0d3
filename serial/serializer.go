package serial

import (
	"context"
	"fmt"
	"sync"

	"github.com/jonwraymond/xpersist/store"
)

// Serializer converts one family of results to and from store artifacts.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: Dump and Load stop early when ctx is cancelled.
// - Errors: failures are returned as *SerializationError. Checksum or
// format mismatches on load wrap ErrCorrupt.
type Serializer interface {
	// Name identifies the format. It is stored in each entry.
	Name() string

	// Supports reports whether Dump accepts v.
	Supports(v any) bool

	// Dump writes v and returns its logical size in bytes.
	Dump(ctx context.Context, v any, w store.WriteHandle) (int64, error)

	// Load reads the entry into dst, which must be a non-nil pointer.
	Load(ctx context.Context, r store.ReadHandle, dst any) error
}

// Registry holds serializers in registration order.
type Registry struct {
	mu     sync.RWMutex
	order  []Serializer
	byName map[string]Serializer
}

// NewRegistry creates a registry with the given serializers.
// It panics on duplicate names.
func NewRegistry(serializers ...Serializer) *Registry {
	r := &Registry{byName: make(map[string]Serializer)}
	for _, s := range serializers {
		if err := r.Register(s); err != nil {
			panic(err)
		}
	}
	return r
}

// DefaultRegistry returns a registry with dataset/v1, bytes/v1 and json/v1
// using default configuration.
func DefaultRegistry() *Registry {
	return NewRegistry(NewDataset(DatasetConfig{}), NewBytes(BytesConfig{}), NewJSON())
}

// Register appends s. Serializers registered earlier win selection.
func (r *Registry) Register(s Serializer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[s.Name()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateSerializer, s.Name())
	}
	r.byName[s.Name()] = s
	r.order = append(r.order, s)
	return nil
}

// Get returns the serializer registered under name.
func (r *Registry) Get(name string) (Serializer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byName[name]
	if !ok {
		return nil, &SerializationError{Serializer: name, Op: "select", Type: "<entry>", Err: fmt.Errorf("%w: %q", ErrUnknownSerializer, name)}
	}
	return s, nil
}

// Select picks the serializer for v. A non-empty name must be registered
// and support v; otherwise the first supporting serializer is used.
func (r *Registry) Select(v any, name string) (Serializer, error) {
	if name != "" {
		s, err := r.Get(name)
		if err != nil {
			return nil, err
		}
		if !s.Supports(v) {
			return nil, serErr(name, "select", v, ErrUnsupported)
		}
		return s, nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.order {
		if s.Supports(v) {
			return s, nil
		}
	}
	return nil, serErr("", "select", v, ErrUnsupported)
}

// Names returns registered names in selection order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.order))
	for i, s := range r.order {
		names[i] = s.Name()
	}
	return names
}
