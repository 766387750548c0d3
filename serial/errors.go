package serial

import (
	"context"
	"errors"
	"fmt"

	xerrors "github.com/jmgilman/go/errors"

	"github.com/jonwraymond/xpersist/store"
)

// Sentinel errors for serialization.
var (
	// ErrSerialization is wrapped by every SerializationError.
	ErrSerialization = xerrors.New(xerrors.CodeSchemaFailed, "serial: serialization failed")

	// ErrCorrupt indicates stored artifacts failed verification on load.
	ErrCorrupt = xerrors.New(xerrors.CodeSchemaFailed, "serial: corrupt artifact")

	// ErrUnsupported indicates no serializer accepts the value or destination.
	ErrUnsupported = xerrors.New(xerrors.CodeInvalidInput, "serial: unsupported type")

	// ErrUnknownSerializer indicates a serializer name is not registered.
	ErrUnknownSerializer = xerrors.New(xerrors.CodeInvalidInput, "serial: unknown serializer")

	// ErrDuplicateSerializer indicates a name is already registered.
	ErrDuplicateSerializer = xerrors.New(xerrors.CodeAlreadyExists, "serial: serializer already registered")
)

// SerializationError reports which serializer failed, on which type, and
// during which operation.
type SerializationError struct {
	Serializer string
	Op         string
	Type       string
	Err        error
}

func (e *SerializationError) Error() string {
	name := e.Serializer
	if name == "" {
		name = "<none>"
	}
	return fmt.Sprintf("serial: %s %s (%s): %v", e.Op, e.Type, name, e.Err)
}

// Unwrap exposes both ErrSerialization and the underlying cause.
func (e *SerializationError) Unwrap() []error {
	return []error{ErrSerialization, e.Err}
}

// serErr wraps err as a SerializationError. Storage and context errors
// pass through unchanged so callers can tell them apart.
func serErr(serializer, op string, v any, err error) error {
	if err == nil {
		return nil
	}
	var se *SerializationError
	switch {
	case errors.As(err, &se),
		errors.Is(err, store.ErrStorageUnavailable),
		errors.Is(err, store.ErrNotFound),
		errors.Is(err, store.ErrClosed),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return &SerializationError{Serializer: serializer, Op: op, Type: fmt.Sprintf("%T", v), Err: err}
}
