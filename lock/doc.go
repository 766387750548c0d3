// Package lock provides per-fingerprint mutual exclusion.
//
// Manager serializes work on one key within a process. Each key maps to a
// reference-counted one-slot channel, so acquisition honors context
// cancellation and idle keys are reclaimed.
//
// FileLocker adds best-effort exclusion across processes that share a
// filesystem. A holder creates locks/<key>.lock with O_EXCL; waiters poll
// with constant backoff. Claims older than StaleAfter are assumed abandoned
// and broken. The lock is advisory: a holder that stalls past StaleAfter
// can lose its claim.
//
//	m := lock.NewManager(lock.WithFileLocker(locker))
//	tok, err := m.Acquire(ctx, fp.Hex())
//	if err != nil {
//		return err
//	}
//	defer tok.Release()
package lock
