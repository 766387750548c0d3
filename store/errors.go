package store

import (
	"context"
	"errors"
	"fmt"

	xerrors "github.com/jmgilman/go/errors"

	"github.com/jonwraymond/xpersist/fingerprint"
)

// Sentinel errors for store operations.
var (
	// ErrNotFound indicates no entry exists for the fingerprint.
	ErrNotFound = xerrors.New(xerrors.CodeNotFound, "store: entry not found")

	// ErrStorageUnavailable is wrapped by every StorageUnavailableError.
	ErrStorageUnavailable = xerrors.New(xerrors.CodeUnavailable, "store: storage unavailable")

	// ErrInvalidName indicates an artifact name is empty or not a plain file name.
	ErrInvalidName = xerrors.New(xerrors.CodeInvalidInput, "store: invalid artifact name")

	// ErrClosed indicates use of a committed, aborted or closed handle or backend.
	ErrClosed = xerrors.New(xerrors.CodeConflict, "store: handle is closed")

	// ErrObjectNotFound is returned by ObjectStore implementations for missing keys.
	ErrObjectNotFound = errors.New("store: object not found")
)

// StorageUnavailableError reports an I/O failure against the backend.
// It matches ErrStorageUnavailable and is classified retryable.
type StorageUnavailableError struct {
	Op          string
	Fingerprint fingerprint.Fingerprint
	Err         error
}

func (e *StorageUnavailableError) Error() string {
	if e.Fingerprint != "" {
		return fmt.Sprintf("store: %s %s: storage unavailable: %v", e.Op, e.Fingerprint.Short(), e.Err)
	}
	return fmt.Sprintf("store: %s: storage unavailable: %v", e.Op, e.Err)
}

// Unwrap exposes both the sentinel and the underlying cause.
func (e *StorageUnavailableError) Unwrap() []error {
	return []error{ErrStorageUnavailable, e.Err}
}

// unavailable wraps err unless it is nil, a context error, or already a
// store error that callers should see unchanged.
func unavailable(op string, fp fingerprint.Fingerprint, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var sue *StorageUnavailableError
	if errors.As(err, &sue) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidName) || errors.Is(err, ErrClosed) {
		return err
	}
	return &StorageUnavailableError{Op: op, Fingerprint: fp, Err: err}
}
