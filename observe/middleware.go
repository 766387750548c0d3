package observe

import (
	"context"
	"time"
)

// CallFunc is the signature of an instrumented cache operation.
type CallFunc func(ctx context.Context, meta CallMeta) (CallResult, error)

// Middleware wraps cache operations with tracing, metrics and logging.
//
// Contract:
//   - Concurrency: Wrap() returns a thread-safe CallFunc.
//   - Context: Propagates context through tracing spans.
//   - Errors: Errors from the wrapped function are recorded and propagated unchanged.
type Middleware struct {
	tracer  Tracer
	metrics Metrics
	logger  Logger
}

// NewMiddleware creates a new Middleware with the given observability components.
// Nil components are replaced with no-ops.
func NewMiddleware(tracer Tracer, metrics Metrics, logger Logger) *Middleware {
	if tracer == nil {
		tracer = newNoopTracer()
	}
	if metrics == nil {
		metrics = &noopMetrics{}
	}
	if logger == nil {
		logger = nopLogger{}
	}
	return &Middleware{
		tracer:  tracer,
		metrics: metrics,
		logger:  logger,
	}
}

// NopMiddleware returns a Middleware that records nothing.
func NopMiddleware() *Middleware {
	return NewMiddleware(nil, nil, nil)
}

// Logger returns the middleware's logger.
func (m *Middleware) Logger() Logger {
	return m.logger
}

// Wrap wraps a CallFunc with tracing, metrics and logging.
func (m *Middleware) Wrap(fn CallFunc) CallFunc {
	return func(ctx context.Context, meta CallMeta) (CallResult, error) {
		ctx, span := m.tracer.StartSpan(ctx, meta)
		start := time.Now()

		res, err := fn(ctx, meta)

		duration := time.Since(start)
		m.tracer.EndSpan(span, res, err)
		m.metrics.RecordCall(ctx, meta, res, duration, err)

		logger := m.logger.WithCall(meta)
		fields := []Field{
			{Key: "duration_ms", Value: float64(duration.Milliseconds())},
		}
		if res.Fingerprint != "" {
			fields = append(fields, Field{Key: "fingerprint", Value: res.Fingerprint})
		}
		if res.Action != "" {
			fields = append(fields, Field{Key: "action", Value: res.Action})
		}
		if res.Bytes > 0 {
			fields = append(fields, Field{Key: "bytes_written", Value: res.Bytes})
		}

		if err != nil {
			fields = append(fields, Field{Key: "error", Value: err.Error()})
			logger.Error(ctx, "cache call failed", fields...)
		} else {
			logger.Info(ctx, "cache call completed", fields...)
		}
		return res, err
	}
}

// MiddlewareFromObserver creates a Middleware from an Observer.
func MiddlewareFromObserver(obs Observer) (*Middleware, error) {
	if obs == nil {
		return nil, ErrNilObserver
	}
	metrics, err := newMetrics(obs.Meter())
	if err != nil {
		return nil, err
	}
	return NewMiddleware(NewTracer(obs.Tracer()), metrics, obs.Logger()), nil
}
