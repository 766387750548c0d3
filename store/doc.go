// Package store persists cache entries keyed by fingerprint.
//
// A Backend maps a fingerprint to an Entry (metadata) plus a set of named
// artifact files. Writes go through a WriteHandle that stages artifacts in a
// temporary location; nothing becomes visible under the fingerprint until
// Commit publishes an entry pointer in a single atomic step. Abort, or a
// failed Commit, discards the staged artifacts. Readers therefore observe
// either no entry, the previous complete entry, or the new complete entry.
//
// Three backends are provided:
//
//   - MemoryStore: process lifetime map, mostly for tests.
//   - FSStore: any core.FS (local disk via billy.NewLocal, or in-memory).
//   - ObjectBackend: any ObjectStore (MinIO, S3) with resilience wrapping.
package store
