package fingerprint

import (
	"fmt"

	xerrors "github.com/jmgilman/go/errors"
)

// Sentinel errors for fingerprint derivation.
var (
	// ErrUnhashableInput indicates an argument has no canonical representation.
	ErrUnhashableInput = xerrors.New(xerrors.CodeInvalidInput, "fingerprint: unhashable input")

	// ErrInvalidName indicates the computation name is empty.
	ErrInvalidName = xerrors.New(xerrors.CodeInvalidInput, "fingerprint: computation name is required")

	// ErrInvalidFingerprint indicates a string is not a valid fingerprint.
	ErrInvalidFingerprint = xerrors.New(xerrors.CodeInvalidInput, "fingerprint: invalid fingerprint")
)

// UnhashableInputError reports the argument that could not be canonicalized.
//
// The caller must supply a canonicalizer for the type (see Registry.Register)
// or exclude the argument from fingerprinting.
type UnhashableInputError struct {
	// Path locates the value, e.g. args[1].Grid or kwargs["mask"][3].
	Path string
	// Type is the Go type of the offending value.
	Type string
	// Reason describes why the value was rejected.
	Reason string
}

func (e *UnhashableInputError) Error() string {
	return fmt.Sprintf("fingerprint: unhashable input at %s (%s): %s", e.Path, e.Type, e.Reason)
}

// Unwrap lets errors.Is match ErrUnhashableInput and exposes its error code.
func (e *UnhashableInputError) Unwrap() error {
	return ErrUnhashableInput
}
