package resilience

import (
	"context"
	"errors"

	xerrors "github.com/jmgilman/go/errors"
)

// Sentinel errors for resilience operations.
var (
	// ErrCircuitOpen is returned while the breaker rejects calls.
	ErrCircuitOpen = xerrors.New(xerrors.CodeUnavailable, "resilience: circuit breaker is open")

	// ErrBulkheadFull is returned when no slot frees up within MaxWait.
	ErrBulkheadFull = xerrors.New(xerrors.CodeUnavailable, "resilience: bulkhead at capacity")

	// ErrTimeout is returned when an attempt exceeds its deadline.
	ErrTimeout = xerrors.New(xerrors.CodeTimeout, "resilience: operation timed out")
)

// Transient reports whether err is worth another attempt: it carries a
// retryable error code and is not a cancellation of the caller's context.
func Transient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	return xerrors.IsRetryable(err)
}
