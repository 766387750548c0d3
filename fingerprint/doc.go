// Package fingerprint derives deterministic identities for computations.
//
// A Fingerprint is a SHA-256 digest over a canonical, type-tagged encoding of
// the computation name, its positional and keyword arguments, and an optional
// version tag. Keyword order, map iteration order, process and machine do not
// affect the result. Floats are encoded by their IEEE-754 bits.
//
// Arguments are canonicalized through a Registry. Values implementing
// Canonicalizer or ArrayLike are handled by capability before the built-in
// kinds; callers can register additional canonicalizers for their own types.
package fingerprint
