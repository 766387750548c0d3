package observe_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jonwraymond/xpersist/observe"
)

func ExampleNewObserver() {
	var logs bytes.Buffer
	obs, err := observe.NewObserver(context.Background(), observe.Config{
		ServiceName: "xpersist",
		Tracing:     observe.TracingConfig{Enabled: true, Exporter: "none", SamplePct: 1},
		Logging:     observe.LoggingConfig{Enabled: true, Level: "info", Writer: &logs},
	})
	if err != nil {
		fmt.Println(err)
		return
	}
	defer func() { _ = obs.Shutdown(context.Background()) }()

	mw, _ := observe.MiddlewareFromObserver(obs)
	call := mw.Wrap(func(context.Context, observe.CallMeta) (observe.CallResult, error) {
		return observe.CallResult{Action: "create", Bytes: 128}, nil
	})
	res, _ := call(context.Background(), observe.CallMeta{Name: "climate.sum_grid"})

	fmt.Println(res.Action)
	fmt.Println(strings.Contains(logs.String(), `"name":"climate.sum_grid"`))
	// Output:
	// create
	// true
}

func ExampleConfig_Validate() {
	cfg := observe.Config{ServiceName: "xpersist", Logging: observe.LoggingConfig{Enabled: true, Level: "trace"}}
	fmt.Println(errors.Is(cfg.Validate(), observe.ErrInvalidLogLevel))
	// Output: true
}

func ExampleCallMeta_SpanName() {
	fmt.Println(observe.CallMeta{Name: "climate.sum_grid"}.SpanName())
	fmt.Println(observe.CallMeta{Name: "climate.sum_grid", Op: "invalidate"}.SpanName())
	// Output:
	// xpersist.get_or_compute
	// xpersist.invalidate
}

func ExampleParseLogLevel() {
	for _, s := range []string{"debug", "warn", "verbose"} {
		fmt.Println(s, observe.ParseLogLevel(s))
	}
	// Output:
	// debug debug
	// warn warn
	// verbose info
}
