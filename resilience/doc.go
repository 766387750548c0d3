// Package resilience wraps calls to slow or unreliable storage with retry,
// timeouts, a circuit breaker and a concurrency bulkhead.
//
// Errors are classified by their jmgilman/go/errors code: Transient treats
// CodeTimeout and CodeUnavailable as worth another attempt, and everything
// else as permanent. Remote backends compose the patterns with an Executor:
//
//	exec := resilience.NewExecutor(
//		resilience.WithCircuitBreaker(resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{})),
//		resilience.WithRetry(resilience.NewRetry(resilience.RetryConfig{Jitter: true})),
//		resilience.WithTimeout(30*time.Second),
//	)
//	err := exec.Execute(ctx, func(ctx context.Context) error {
//		return bucket.Put(ctx, key, body, size)
//	})
//
// The Bulkhead on its own bounds how many computations a cache runs at once.
package resilience
