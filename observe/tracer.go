package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// OpGetOrCompute is the operation name of a cached computation call.
const OpGetOrCompute = "get_or_compute"

// CallMeta describes one cache operation for telemetry purposes.
type CallMeta struct {
	Op         string // Operation name (default: get_or_compute)
	Name       string // Qualified computation name (required)
	Version    string // Version tag (optional)
	Backend    string // Store backend kind (optional)
	Serializer string // Requested serializer (optional)
}

// Operation returns Op, defaulting to OpGetOrCompute.
func (m CallMeta) Operation() string {
	if m.Op != "" {
		return m.Op
	}
	return OpGetOrCompute
}

// Validate checks that the metadata names a computation.
func (m CallMeta) Validate() error {
	if m.Name == "" {
		return ErrMissingCallName
	}
	return nil
}

// SpanName returns the deterministic span name for this operation.
// Format: xpersist.<op>
func (m CallMeta) SpanName() string {
	return "xpersist." + m.Operation()
}

// CallResult summarizes a finished cache operation.
type CallResult struct {
	Action      string // hit|create|overwrite
	Fingerprint string
	Bytes       int64 // Logical bytes written (zero on hits)
}

// Tracer wraps OpenTelemetry tracing with cache-specific span management.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: StartSpan returns a context carrying the span.
// - Errors: EndSpan must be best-effort and must not panic.
type Tracer interface {
	// StartSpan starts a new span for a cache operation.
	StartSpan(ctx context.Context, meta CallMeta) (context.Context, trace.Span)

	// EndSpan records the result and any error, then ends the span.
	EndSpan(span trace.Span, res CallResult, err error)
}

// tracerImpl is the concrete implementation of Tracer.
type tracerImpl struct {
	tracer trace.Tracer
}

// NewTracer creates a Tracer wrapping the given OpenTelemetry tracer.
func NewTracer(t trace.Tracer) Tracer {
	return &tracerImpl{tracer: t}
}

// StartSpan starts a new span with call metadata as attributes.
func (t *tracerImpl) StartSpan(ctx context.Context, meta CallMeta) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{
		attribute.String("xpersist.name", meta.Name),
		attribute.Bool("xpersist.error", false),
	}
	if meta.Version != "" {
		attrs = append(attrs, attribute.String("xpersist.version", meta.Version))
	}
	if meta.Backend != "" {
		attrs = append(attrs, attribute.String("xpersist.backend", meta.Backend))
	}
	if meta.Serializer != "" {
		attrs = append(attrs, attribute.String("xpersist.serializer", meta.Serializer))
	}

	return t.tracer.Start(ctx, meta.SpanName(),
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndSpan ends the span and records the result and error status.
func (t *tracerImpl) EndSpan(span trace.Span, res CallResult, err error) {
	if res.Fingerprint != "" {
		span.SetAttributes(attribute.String("xpersist.fingerprint", res.Fingerprint))
	}
	if res.Action != "" {
		span.SetAttributes(attribute.String("xpersist.action", res.Action))
	}
	if res.Bytes > 0 {
		span.SetAttributes(attribute.Int64("xpersist.bytes_written", res.Bytes))
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.Bool("xpersist.error", true))
		span.RecordError(err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// noopTracer is a tracer that does nothing.
type noopTracer struct {
	noop trace.Tracer
}

func newNoopTracer() Tracer {
	return &noopTracer{
		noop: tracenoop.NewTracerProvider().Tracer("noop"),
	}
}

func (t *noopTracer) StartSpan(ctx context.Context, meta CallMeta) (context.Context, trace.Span) {
	return t.noop.Start(ctx, meta.SpanName())
}

func (t *noopTracer) EndSpan(span trace.Span, _ CallResult, _ error) {
	span.End()
}
