package observe

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func newTestMiddleware(t *testing.T, buf *bytes.Buffer) (*Middleware, *tracetest.SpanRecorder, *sdkmetric.ManualReader) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	metrics, reader := newTestMetrics(t)
	return NewMiddleware(NewTracer(tp.Tracer("test")), metrics, NewLoggerWithWriter("info", buf)), recorder, reader
}

// TestMiddleware_SuccessPath verifies a successful call records telemetry.
func TestMiddleware_SuccessPath(t *testing.T) {
	var buf bytes.Buffer
	mw, recorder, reader := newTestMiddleware(t, &buf)

	var sawSpan bool
	wrapped := mw.Wrap(func(ctx context.Context, meta CallMeta) (CallResult, error) {
		sawSpan = trace.SpanFromContext(ctx).SpanContext().IsValid()
		return CallResult{Action: "create", Fingerprint: "sha256:abc", Bytes: 64}, nil
	})
	res, err := wrapped(context.Background(), CallMeta{Name: "pkg.sum_grid"})
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if res.Action != "create" {
		t.Errorf("result not propagated: %+v", res)
	}
	if !sawSpan {
		t.Error("wrapped function should run inside the span")
	}

	spans := recorder.Ended()
	if len(spans) != 1 || spans[0].Name() != "xpersist.get_or_compute" {
		t.Fatalf("unexpected spans: %v", spans)
	}

	rm := collect(t, reader)
	if counterTotal(t, rm, MetricMisses) != 1 || counterTotal(t, rm, MetricBytesWritten) != 64 {
		t.Error("expected miss and bytes written to be recorded")
	}

	entry := parseLine(t, buf.String())
	if entry["msg"] != "cache call completed" || entry["action"] != "create" || entry["fingerprint"] != "sha256:abc" {
		t.Errorf("unexpected log line: %v", entry)
	}
}

// TestMiddleware_ErrorPropagatesUnchanged verifies error identity is preserved.
func TestMiddleware_ErrorPropagatesUnchanged(t *testing.T) {
	var buf bytes.Buffer
	mw, recorder, reader := newTestMiddleware(t, &buf)
	sentinel := errors.New("compute failed")

	wrapped := mw.Wrap(func(context.Context, CallMeta) (CallResult, error) {
		return CallResult{}, sentinel
	})
	_, err := wrapped(context.Background(), CallMeta{Name: "pkg.f"})
	if err != sentinel {
		t.Fatalf("expected sentinel error, got %v", err)
	}

	if recorder.Ended()[0].Status().Description != "compute failed" {
		t.Error("span should carry the error")
	}
	if counterTotal(t, collect(t, reader), MetricErrors) != 1 {
		t.Error("expected error counter")
	}
	if !strings.Contains(buf.String(), `"level":"error"`) || !strings.Contains(buf.String(), "compute failed") {
		t.Errorf("expected error log line, got: %s", buf.String())
	}
}

// TestMiddlewareFromObserver verifies construction from an Observer.
func TestMiddlewareFromObserver(t *testing.T) {
	if _, err := MiddlewareFromObserver(nil); !errors.Is(err, ErrNilObserver) {
		t.Errorf("expected ErrNilObserver, got %v", err)
	}

	mw, err := MiddlewareFromObserver(Noop())
	if err != nil {
		t.Fatalf("MiddlewareFromObserver: %v", err)
	}
	res, err := mw.Wrap(func(context.Context, CallMeta) (CallResult, error) {
		return CallResult{Action: "hit"}, nil
	})(context.Background(), CallMeta{Name: "pkg.f"})
	if err != nil || res.Action != "hit" {
		t.Errorf("unexpected result %+v, %v", res, err)
	}
}

// TestNopMiddleware verifies nil components are replaced.
func TestNopMiddleware(t *testing.T) {
	mw := NopMiddleware()
	if mw.Logger() == nil {
		t.Fatal("expected logger")
	}
	_, err := mw.Wrap(func(context.Context, CallMeta) (CallResult, error) {
		return CallResult{}, nil
	})(context.Background(), CallMeta{Name: "pkg.f"})
	if err != nil {
		t.Fatal(err)
	}
}
