package fingerprint

import (
	_ "crypto/sha256"
	"fmt"
	"strings"

	"github.com/opencontainers/go-digest"
)

// domain separates this encoding from any other use of the hash.
const domain = "xpersist/fingerprint/v1"

// Fingerprint is the opaque identity of a computation and its inputs.
// Its string form is an OCI style digest: "sha256:<64 hex chars>".
type Fingerprint string

// Parse validates s and returns it as a Fingerprint. A bare 64 character
// hex string is accepted and given the sha256 prefix.
func Parse(s string) (Fingerprint, error) {
	s = strings.TrimSpace(s)
	if !strings.Contains(s, ":") {
		s = string(digest.SHA256) + ":" + s
	}
	d, err := digest.Parse(s)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidFingerprint, s, err)
	}
	if d.Algorithm() != digest.SHA256 {
		return "", fmt.Errorf("%w: unsupported algorithm %q", ErrInvalidFingerprint, d.Algorithm())
	}
	return Fingerprint(d), nil
}

// String returns the full digest form.
func (f Fingerprint) String() string { return string(f) }

// Digest returns the fingerprint as a digest.Digest.
func (f Fingerprint) Digest() digest.Digest { return digest.Digest(f) }

// Hex returns the hex encoded hash without the algorithm prefix. Storage
// backends use it for paths and object keys.
func (f Fingerprint) Hex() string { return f.Digest().Encoded() }

// Short returns the first 12 hex characters, for display.
func (f Fingerprint) Short() string {
	h := f.Hex()
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

// Validate reports whether f is a well formed sha256 fingerprint.
func (f Fingerprint) Validate() error {
	_, err := Parse(string(f))
	return err
}

// Builder derives fingerprints.
//
// Contract:
// - Determinism: identical logical inputs always yield the same fingerprint.
// - Concurrency: safe for concurrent use.
type Builder struct {
	registry *Registry
}

// Option configures a Builder.
type Option func(*Builder)

// WithRegistry sets the canonicalizer registry. Defaults to DefaultRegistry.
func WithRegistry(r *Registry) Option {
	return func(b *Builder) {
		if r != nil {
			b.registry = r
		}
	}
}

// NewBuilder creates a Builder.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{registry: DefaultRegistry}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build derives the fingerprint of calling name with args and kwargs under
// the given version tag. An empty version is distinct from any non-empty one.
func (b *Builder) Build(name string, args []any, kwargs map[string]any, version string) (Fingerprint, error) {
	if strings.TrimSpace(name) == "" {
		return "", ErrInvalidName
	}

	d := digest.SHA256.Digester()
	enc := newEncoder(d.Hash(), b.registry)

	enc.writeString(domain)
	enc.writeString(name)
	enc.writeString(version)

	enc.writeTag(tagList)
	enc.writeUvarint(uint64(len(args)))
	for i, arg := range args {
		if err := enc.encode(fmt.Sprintf("args[%d]", i), arg); err != nil {
			return "", err
		}
	}

	if kwargs == nil {
		kwargs = map[string]any{}
	}
	if err := enc.encode("kwargs", kwargs); err != nil {
		return "", err
	}

	return Fingerprint(d.Digest()), nil
}

// Canonical returns the canonical encoding of a single value. It is
// mostly useful for debugging fingerprint drift and for tests.
func (b *Builder) Canonical(v any) ([]byte, error) {
	return canonicalBytes(b.registry, "value", v)
}
