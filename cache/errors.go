package cache

import (
	"errors"

	xerrors "github.com/jmgilman/go/errors"

	"github.com/jonwraymond/xpersist/store"
)

// Sentinel errors for cache operations.
var (
	ErrNilCache      = errors.New("cache: cache is nil")
	ErrNilBackend    = errors.New("cache: backend is nil")
	ErrNilCompute    = xerrors.New(xerrors.CodeInvalidInput, "cache: compute function is nil")
	ErrInvalidPolicy = xerrors.New(xerrors.CodeInvalidInput, "cache: invalid policy")

	// ErrClosed is returned by every operation after Close.
	ErrClosed = store.ErrClosed
)
