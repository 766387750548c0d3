package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestTimeout_Execute(t *testing.T) {
	to := NewTimeout(TimeoutConfig{Timeout: 20 * time.Millisecond})

	if err := to.Execute(context.Background(), succeed); err != nil {
		t.Errorf("fast op: %v", err)
	}

	err := to.Execute(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("slow op: %v, want ErrTimeout", err)
	}

	err = to.Execute(context.Background(), func(context.Context) error {
		time.Sleep(200 * time.Millisecond)
		return nil
	})
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("op ignoring ctx: %v, want ErrTimeout", err)
	}
}

func TestTimeout_CallerCancellation(t *testing.T) {
	to := NewTimeout(TimeoutConfig{Timeout: time.Second})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := to.Execute(ctx, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Execute() = %v, want Canceled", err)
	}
}

func TestTimeout_Defaults(t *testing.T) {
	if got := NewTimeout(TimeoutConfig{}).Config().Timeout; got != 30*time.Second {
		t.Errorf("default timeout = %v, want 30s", got)
	}
}
