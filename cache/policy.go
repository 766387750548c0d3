package cache

import (
	"fmt"

	"github.com/jonwraymond/xpersist/fingerprint"
)

// WriteFailureMode decides what a caller sees when a computed result cannot
// be persisted.
type WriteFailureMode int

const (
	// FailClosed returns the write error to the caller.
	FailClosed WriteFailureMode = iota
	// FailOpen returns the computed result and only reports the failure as
	// a warning.
	FailOpen
)

func (m WriteFailureMode) String() string {
	switch m {
	case FailClosed:
		return "fail-closed"
	case FailOpen:
		return "fail-open"
	default:
		return fmt.Sprintf("WriteFailureMode(%d)", int(m))
	}
}

// ParseWriteFailureMode parses "fail-closed" or "fail-open". An empty string
// is FailClosed.
func ParseWriteFailureMode(s string) (WriteFailureMode, error) {
	switch s {
	case "", "fail-closed":
		return FailClosed, nil
	case "fail-open":
		return FailOpen, nil
	default:
		return FailClosed, fmt.Errorf("%w: write failure mode %q", ErrInvalidPolicy, s)
	}
}

// Warning is a non-fatal problem reported on the warning channel.
type Warning struct {
	// Op is the step that failed: write, load, prune, unlock.
	Op          string
	Name        string
	Fingerprint fingerprint.Fingerprint
	Err         error
}

func (w Warning) Error() string {
	return fmt.Sprintf("xpersist: %s %s (%s): %v", w.Op, w.Name, w.Fingerprint.Short(), w.Err)
}

func (w Warning) Unwrap() error { return w.Err }

// Policy configures caching behavior.
type Policy struct {
	// WriteFailure selects fail-closed or fail-open handling of write errors.
	// Default: FailClosed
	WriteFailure WriteFailureMode

	// PruneSuperseded deletes other entries with the same computation name
	// after a new entry is stored.
	PruneSuperseded bool

	// MaxConcurrentComputes bounds how many computations run at once across
	// all fingerprints. Zero means unbounded.
	MaxConcurrentComputes int

	// OnWarning receives every warning. It is called synchronously and must
	// not block.
	OnWarning func(Warning)
}

// DefaultPolicy returns the default caching policy.
// WriteFailure: FailClosed, PruneSuperseded: false, MaxConcurrentComputes: 0
func DefaultPolicy() Policy {
	return Policy{WriteFailure: FailClosed}
}

// Validate checks the policy for invalid values.
func (p Policy) Validate() error {
	if p.WriteFailure != FailClosed && p.WriteFailure != FailOpen {
		return fmt.Errorf("%w: %s", ErrInvalidPolicy, p.WriteFailure)
	}
	if p.MaxConcurrentComputes < 0 {
		return fmt.Errorf("%w: max concurrent computes %d", ErrInvalidPolicy, p.MaxConcurrentComputes)
	}
	return nil
}
