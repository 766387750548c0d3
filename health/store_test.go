package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonwraymond/xpersist/store"
)

type downBackend struct {
	store.Backend
}

func (downBackend) Ping(context.Context) error {
	return &store.StorageUnavailableError{Op: "ping", Err: errors.New("connection refused")}
}

type slowBackend struct {
	store.Backend
	delay time.Duration
}

func (b slowBackend) Ping(context.Context) error {
	time.Sleep(b.delay)
	return nil
}

func TestStoreChecker(t *testing.T) {
	tests := []struct {
		name    string
		backend store.Backend
		config  StoreCheckerConfig
		want    Status
	}{
		{"memory ping", store.NewMemoryStore(), StoreCheckerConfig{}, StatusHealthy},
		{"memory probe", store.NewMemoryStore(), StoreCheckerConfig{Probe: true}, StatusHealthy},
		{"unreachable", downBackend{store.NewMemoryStore()}, StoreCheckerConfig{}, StatusUnhealthy},
		{"slow", slowBackend{store.NewMemoryStore(), 20 * time.Millisecond}, StoreCheckerConfig{SlowThreshold: time.Millisecond}, StatusDegraded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewStoreChecker(tt.backend, tt.config).Check(context.Background())
			if r.Status != tt.want {
				t.Errorf("status = %s (%s: %v), want %s", r.Status, r.Message, r.Error, tt.want)
			}
		})
	}
}

func TestStoreChecker_ProbeLeavesNoEntry(t *testing.T) {
	backend := store.NewMemoryStore()
	r := NewStoreChecker(backend, StoreCheckerConfig{Probe: true}).Check(context.Background())
	if r.Status != StatusHealthy || r.Details["probe"] != "ok" {
		t.Fatalf("unexpected result %+v", r)
	}
	entries, err := backend.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("probe left %d entries behind", len(entries))
	}
}

func TestStoreChecker_ProbeFailsOnClosedBackend(t *testing.T) {
	backend := store.NewMemoryStore()
	_ = backend.Close()
	r := NewStoreChecker(backend, StoreCheckerConfig{Probe: true}).Check(context.Background())
	if r.Status != StatusUnhealthy {
		t.Errorf("status = %s, want unhealthy", r.Status)
	}
}
