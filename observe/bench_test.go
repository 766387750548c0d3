package observe

import (
	"context"
	"io"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func BenchmarkLogger(b *testing.B) {
	ctx := context.Background()
	meta := CallMeta{Name: "bench.sum_grid", Version: "v1", Backend: "memory"}

	b.Run("enabled", func(b *testing.B) {
		logger := NewLoggerWithWriter("info", io.Discard).WithCall(meta)
		for i := 0; i < b.N; i++ {
			logger.Info(ctx, "cache call completed", Field{Key: "duration_ms", Value: 1.5})
		}
	})
	b.Run("filtered", func(b *testing.B) {
		logger := NewLoggerWithWriter("error", io.Discard).WithCall(meta)
		for i := 0; i < b.N; i++ {
			logger.Info(ctx, "cache call completed", Field{Key: "duration_ms", Value: 1.5})
		}
	})
}

func BenchmarkMiddleware(b *testing.B) {
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	metrics, err := newMetrics(mp.Meter("bench"))
	if err != nil {
		b.Fatal(err)
	}
	instrumented := NewMiddleware(NewTracer(sdktrace.NewTracerProvider().Tracer("bench")), metrics, NewLoggerWithWriter("warn", io.Discard))
	op := func(context.Context, CallMeta) (CallResult, error) {
		return CallResult{Action: "hit", Bytes: 4096}, nil
	}
	ctx := context.Background()
	meta := CallMeta{Name: "bench.sum_grid"}

	for _, bc := range []struct {
		name string
		mw   *Middleware
	}{
		{"nop", NopMiddleware()},
		{"instrumented", instrumented},
	} {
		b.Run(bc.name, func(b *testing.B) {
			wrapped := bc.mw.Wrap(op)
			b.RunParallel(func(pb *testing.PB) {
				for pb.Next() {
					_, _ = wrapped(ctx, meta)
				}
			})
		})
	}
}
