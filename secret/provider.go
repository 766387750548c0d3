package secret

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Provider resolves secrets by reference string.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: a missing secret wraps ErrNotFound. Values are never logged or
// included in errors.
type Provider interface {
	Name() string
	Resolve(ctx context.Context, ref string) (string, error)
	Close() error
}

// EnvProvider resolves a reference as an environment variable name:
// secretref:env:MINIO_SECRET_KEY.
type EnvProvider struct{}

// NewEnvProvider creates an EnvProvider.
func NewEnvProvider() *EnvProvider { return &EnvProvider{} }

// Name returns "env".
func (*EnvProvider) Name() string { return "env" }

// Resolve returns the variable's value.
func (*EnvProvider) Resolve(_ context.Context, ref string) (string, error) {
	v, ok := os.LookupEnv(ref)
	if !ok {
		return "", fmt.Errorf("%w: env %s", ErrNotFound, ref)
	}
	return v, nil
}

// Close is a no-op.
func (*EnvProvider) Close() error { return nil }

// FileProvider resolves a reference as a file path, as with container
// secrets mounted under /run/secrets. Relative references are joined to
// Dir and may not escape it. Trailing newlines are trimmed.
type FileProvider struct {
	dir string
}

// NewFileProvider creates a FileProvider rooted at dir. An empty dir
// accepts only absolute references.
func NewFileProvider(dir string) *FileProvider { return &FileProvider{dir: dir} }

// Name returns "file".
func (*FileProvider) Name() string { return "file" }

// Resolve reads the referenced file.
func (p *FileProvider) Resolve(_ context.Context, ref string) (string, error) {
	path := ref
	if !filepath.IsAbs(ref) {
		if p.dir == "" || !filepath.IsLocal(ref) {
			return "", fmt.Errorf("%w: file %q is outside the secrets directory", ErrNotFound, ref)
		}
		path = filepath.Join(p.dir, ref)
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: file %s", ErrNotFound, ref)
	}
	if err != nil {
		return "", fmt.Errorf("secret: read %s: %w", ref, err)
	}
	return strings.TrimRight(string(b), "\r\n"), nil
}

// Close is a no-op.
func (*FileProvider) Close() error { return nil }

var (
	_ Provider = (*EnvProvider)(nil)
	_ Provider = (*FileProvider)(nil)
)
