package health

import (
	"context"
	"strings"
	"testing"

	"github.com/jonwraymond/xpersist/fingerprint"
	"github.com/jonwraymond/xpersist/store"
)

func fillStore(t *testing.T, n, size int) store.Backend {
	t.Helper()
	backend := store.NewMemoryStore()
	b := fingerprint.NewBuilder()
	for i := range n {
		fp, err := b.Build("fill", []any{i}, nil, "")
		if err != nil {
			t.Fatal(err)
		}
		_, err = store.WithWriter(context.Background(), backend, fp, func(w store.WriteHandle) (store.Entry, error) {
			f, err := w.Create("data")
			if err != nil {
				return store.Entry{}, err
			}
			if _, err := f.Write(make([]byte, size)); err != nil {
				return store.Entry{}, err
			}
			return store.Entry{Name: "fill", Serializer: "bytes/v1"}, f.Close()
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	return backend
}

func TestUsageChecker(t *testing.T) {
	backend := fillStore(t, 4, 1024)
	tests := []struct {
		name  string
		quota uint64
		want  Status
	}{
		{"no quota", 0, StatusHealthy},
		{"plenty", 1 << 20, StatusHealthy},
		{"high", 4800, StatusDegraded},
		{"critical", 4096, StatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewUsageChecker(backend, UsageCheckerConfig{Quota: tt.quota}).Check(context.Background())
			if r.Status != tt.want {
				t.Errorf("status = %s (%s), want %s", r.Status, r.Message, tt.want)
			}
			if r.Details["entries"] != 4 || r.Details["stored_bytes"] != uint64(4096) {
				t.Errorf("details = %v", r.Details)
			}
		})
	}
}

func TestUsageChecker_HumanMessage(t *testing.T) {
	r := NewUsageChecker(fillStore(t, 2, 1024), UsageCheckerConfig{}).Check(context.Background())
	if !strings.Contains(r.Message, "2.0 KiB") {
		t.Errorf("message = %q", r.Message)
	}
}
