package resilience_test

import (
	"context"
	"fmt"
	"time"

	xerrors "github.com/jmgilman/go/errors"

	"github.com/jonwraymond/xpersist/resilience"
)

func ExampleExecutor() {
	exec := resilience.NewExecutor(
		resilience.WithRetry(resilience.NewRetry(resilience.RetryConfig{
			MaxAttempts:  3,
			InitialDelay: time.Millisecond,
		})),
		resilience.WithTimeout(time.Second),
	)

	attempts := 0
	err := exec.Execute(context.Background(), func(context.Context) error {
		attempts++
		if attempts < 3 {
			return xerrors.New(xerrors.CodeUnavailable, "503 slow down")
		}
		return nil
	})
	fmt.Println(err, attempts)
	// Output:
	// <nil> 3
}
