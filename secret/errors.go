package secret

import xerrors "github.com/jmgilman/go/errors"

// Sentinel errors for secret resolution.
var (
	// ErrMissingEnv indicates a ${VAR} reference to an unset variable.
	ErrMissingEnv = xerrors.New(xerrors.CodeInvalidInput, "secret: missing environment variable")

	// ErrUnknownProvider indicates a secretref names an unregistered provider.
	ErrUnknownProvider = xerrors.New(xerrors.CodeNotFound, "secret: provider not registered")

	// ErrNotFound indicates a provider has no value for a reference.
	ErrNotFound = xerrors.New(xerrors.CodeNotFound, "secret: not found")

	// ErrEmpty indicates a strict resolver received an empty value.
	ErrEmpty = xerrors.New(xerrors.CodeInvalidInput, "secret: empty value")

	// ErrInvalidRegistration indicates a bad provider name or nil factory.
	ErrInvalidRegistration = xerrors.New(xerrors.CodeInvalidInput, "secret: invalid provider registration")
)
