// Package observe provides observability primitives for cache operations.
//
// It is a pure instrumentation library: no storage access, no I/O beyond
// exporter setup and log output. The cache coordinator wraps each call in a
// Middleware, which opens a span named xpersist.<op>, records hit, miss,
// error, duration and bytes-written metrics, and emits one structured log
// line. Logs are single-line JSON written through a zap core; Format "zap"
// selects zap's production logger instead. Fields that may carry
// credentials or raw call arguments are redacted.
package observe
