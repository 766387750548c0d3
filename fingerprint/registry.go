package fingerprint

import (
	"encoding"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/opencontainers/go-digest"
)

// Canonicalizer is implemented by types that provide their own deterministic
// identity. The returned bytes must depend only on the logical value.
type Canonicalizer interface {
	CanonicalBytes() ([]byte, error)
}

// ArrayLike is implemented by array values that are identified by shape,
// element type and a digest of their contents rather than by identity.
type ArrayLike interface {
	Shape() []int
	DTypeName() string
	ContentDigest() digest.Digest
}

// MatchFunc reports whether a canonicalizer handles v.
type MatchFunc func(v any) bool

// EncodeFunc returns the canonical bytes for v.
type EncodeFunc func(v any) ([]byte, error)

type entry struct {
	name   string
	match  MatchFunc
	encode EncodeFunc
}

// Registry holds canonicalizers keyed by capability. Entries are consulted
// in registration order, custom entries before the built-in capabilities,
// and only then does encoding fall back to the value's kind.
//
// Contract:
// - Concurrency: safe for concurrent use.
// - Determinism: encoders must not depend on pointer identity or time.
type Registry struct {
	mu      sync.RWMutex
	custom  []entry
	builtin []entry
}

// NewRegistry creates a registry with the built-in capabilities:
// Canonicalizer, ArrayLike, time.Time, encoding.BinaryMarshaler and
// encoding.TextMarshaler. The marshalers cover values such as *big.Int and
// netip.Addr whose state lives in unexported fields.
func NewRegistry() *Registry {
	return &Registry{
		builtin: []entry{
			{name: "canonicalizer", match: isCanonicalizer, encode: encodeCanonicalizer},
			{name: "array", match: isArrayLike, encode: encodeArrayLike},
			{name: "time", match: isTime, encode: encodeTime},
			{name: "binary", match: isBinaryMarshaler, encode: encodeBinary},
			{name: "text", match: isTextMarshaler, encode: encodeText},
		},
	}
}

// Register adds a named canonicalizer. Names must be unique and are part of
// the encoding, so renaming a canonicalizer changes fingerprints.
func (r *Registry) Register(name string, match MatchFunc, encode EncodeFunc) error {
	name = strings.TrimSpace(name)
	if name == "" || match == nil || encode == nil {
		return errors.New("fingerprint: invalid canonicalizer registration")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range slices.Concat(r.custom, r.builtin) {
		if e.name == name {
			return fmt.Errorf("fingerprint: canonicalizer %q already registered", name)
		}
	}
	r.custom = append(r.custom, entry{name: name, match: match, encode: encode})
	return nil
}

// Names returns the canonicalizer names in lookup order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.custom)+len(r.builtin))
	for _, e := range r.custom {
		names = append(names, e.name)
	}
	for _, e := range r.builtin {
		names = append(names, e.name)
	}
	return names
}

func (r *Registry) lookup(v any) (entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.custom {
		if e.match(v) {
			return e, true
		}
	}
	for _, e := range r.builtin {
		if e.match(v) {
			return e, true
		}
	}
	return entry{}, false
}

// DefaultRegistry is used by builders created without WithRegistry.
var DefaultRegistry = NewRegistry()

func isCanonicalizer(v any) bool {
	_, ok := v.(Canonicalizer)
	return ok
}

func encodeCanonicalizer(v any) ([]byte, error) {
	return v.(Canonicalizer).CanonicalBytes()
}

func isArrayLike(v any) bool {
	_, ok := v.(ArrayLike)
	return ok
}

func encodeArrayLike(v any) ([]byte, error) {
	a := v.(ArrayLike)
	return fmt.Appendf(nil, "%s%v:%s", a.DTypeName(), a.Shape(), a.ContentDigest()), nil
}

func isTime(v any) bool {
	_, ok := v.(time.Time)
	return ok
}

func encodeTime(v any) ([]byte, error) {
	return fmt.Appendf(nil, "%d", v.(time.Time).UTC().UnixNano()), nil
}

func isBinaryMarshaler(v any) bool {
	_, ok := v.(encoding.BinaryMarshaler)
	return ok
}

func encodeBinary(v any) ([]byte, error) {
	return v.(encoding.BinaryMarshaler).MarshalBinary()
}

func isTextMarshaler(v any) bool {
	_, ok := v.(encoding.TextMarshaler)
	return ok
}

func encodeText(v any) ([]byte, error) {
	return v.(encoding.TextMarshaler).MarshalText()
}
