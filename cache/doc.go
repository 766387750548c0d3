// Package cache turns expensive, deterministic computations into
// content-addressed, persisted results.
//
// GetOrCompute fingerprints a Call and loads the stored result when one
// exists. Otherwise it takes the per-fingerprint lock, checks again, and runs
// the compute function and stores what it returns:
//
//	c, _ := cache.New(store.NewMemoryStore())
//	sum, err := cache.GetOrCompute(ctx, c,
//		cache.Call{Name: "climate.sum_grid", Args: []any{grid}},
//		func(ctx context.Context) (float64, error) { return sumGrid(grid), nil },
//	)
//
// Errors from fingerprinting, serialization, storage and the compute function
// reach the caller unchanged. A failed write either fails the call
// (FailClosed) or returns the computed value anyway (FailOpen); both report a
// Warning through Policy.OnWarning and the logger.
package cache
