package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonwraymond/xpersist/observe"
	"github.com/jonwraymond/xpersist/store"
)

// countingObserver records Shutdown calls.
type countingObserver struct {
	observe.Observer
	shutdowns atomic.Int32
}

func (o *countingObserver) Shutdown(ctx context.Context) error {
	o.shutdowns.Add(1)
	return o.Observer.Shutdown(ctx)
}

func withCountingObserver(t *testing.T) *countingObserver {
	t.Helper()
	obs := &countingObserver{Observer: observe.Noop()}
	prev := newObserver
	newObserver = func(context.Context, observe.Config) (observe.Observer, error) { return obs, nil }
	t.Cleanup(func() { newObserver = prev })
	return obs
}

var errBackendDown = errors.New("backend down")

func init() {
	if err := RegisterBackend("test-down", func(context.Context, *Config) (store.Backend, error) {
		return nil, errBackendDown
	}); err != nil {
		panic(err)
	}
}

func TestOpen_ShutsDownTelemetryOnFailure(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, nil, 0o600))

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{
			name:    "backend",
			mutate:  func(c *Config) { c.Backend = "test-down" },
			wantErr: errBackendDown,
		},
		{
			name: "lock dir",
			mutate: func(c *Config) {
				c.Backend = "memory"
				c.CacheDir = file
				c.Lock.CrossProcess = true
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obs := withCountingObserver(t)
			cfg := Default()
			cfg.Observe.Logging.Enabled = true
			tt.mutate(&cfg)

			c, err := Open(context.Background(), &cfg)
			require.Error(t, err)
			assert.Nil(t, c)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			assert.Equal(t, int32(1), obs.shutdowns.Load())
		})
	}
}

func TestOpen_ShutsDownTelemetryOnClose(t *testing.T) {
	obs := withCountingObserver(t)
	cfg := Default()
	cfg.Backend = "memory"
	cfg.Observe.Logging.Enabled = true

	c, err := Open(context.Background(), &cfg)
	require.NoError(t, err)
	assert.Equal(t, int32(0), obs.shutdowns.Load())
	require.NoError(t, c.Close())
	assert.Equal(t, int32(1), obs.shutdowns.Load())
}
