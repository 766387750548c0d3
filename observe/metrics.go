package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names.
const (
	MetricCalls        = "xpersist.calls"
	MetricHits         = "xpersist.hits"
	MetricMisses       = "xpersist.misses"
	MetricErrors       = "xpersist.errors"
	MetricDuration     = "xpersist.duration_ms"
	MetricBytesWritten = "xpersist.bytes_written"
)

// Metrics records cache operation metrics.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: must return quickly.
// - Errors: implementations must not panic.
type Metrics interface {
	// RecordCall records one cache operation with its outcome.
	RecordCall(ctx context.Context, meta CallMeta, res CallResult, duration time.Duration, err error)
}

// metricsImpl is the concrete implementation of Metrics.
type metricsImpl struct {
	calls        metric.Int64Counter
	hits         metric.Int64Counter
	misses       metric.Int64Counter
	errors       metric.Int64Counter
	bytesWritten metric.Int64Counter
	durationHist metric.Float64Histogram
}

// NewMetrics creates a Metrics instance with the given meter.
func NewMetrics(meter metric.Meter) (Metrics, error) {
	return newMetrics(meter)
}

func newMetrics(meter metric.Meter) (*metricsImpl, error) {
	m := &metricsImpl{}
	var err error

	if m.calls, err = meter.Int64Counter(MetricCalls,
		metric.WithDescription("Total number of cache operations"),
		metric.WithUnit("{call}"),
	); err != nil {
		return nil, err
	}
	if m.hits, err = meter.Int64Counter(MetricHits,
		metric.WithDescription("Calls served from a stored entry"),
		metric.WithUnit("{call}"),
	); err != nil {
		return nil, err
	}
	if m.misses, err = meter.Int64Counter(MetricMisses,
		metric.WithDescription("Calls that ran the computation"),
		metric.WithUnit("{call}"),
	); err != nil {
		return nil, err
	}
	if m.errors, err = meter.Int64Counter(MetricErrors,
		metric.WithDescription("Calls that returned an error"),
		metric.WithUnit("{error}"),
	); err != nil {
		return nil, err
	}
	if m.bytesWritten, err = meter.Int64Counter(MetricBytesWritten,
		metric.WithDescription("Logical bytes written to the store"),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if m.durationHist, err = meter.Float64Histogram(MetricDuration,
		metric.WithDescription("Cache operation duration in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordCall records metrics for a cache operation.
func (m *metricsImpl) RecordCall(ctx context.Context, meta CallMeta, res CallResult, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("xpersist.op", meta.Operation()),
		attribute.String("xpersist.name", meta.Name),
	}
	if meta.Backend != "" {
		attrs = append(attrs, attribute.String("xpersist.backend", meta.Backend))
	}
	opt := metric.WithAttributes(attrs...)

	m.calls.Add(ctx, 1, opt)
	switch {
	case err != nil:
		m.errors.Add(ctx, 1, opt)
	case res.Action == "hit":
		m.hits.Add(ctx, 1, opt)
	case res.Action != "":
		m.misses.Add(ctx, 1, opt)
	}
	if res.Bytes > 0 {
		m.bytesWritten.Add(ctx, res.Bytes, opt)
	}
	m.durationHist.Record(ctx, float64(duration.Milliseconds()), opt)
}

// noopMetrics is a metrics implementation that does nothing.
type noopMetrics struct{}

func (m *noopMetrics) RecordCall(context.Context, CallMeta, CallResult, time.Duration, error) {}
