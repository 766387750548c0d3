package health

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/jonwraymond/xpersist/fingerprint"
	"github.com/jonwraymond/xpersist/store"
)

const probeFile = "probe"

// StoreCheckerConfig configures a StoreChecker.
type StoreCheckerConfig struct {
	// SlowThreshold marks the backend degraded when the check takes longer.
	// Default: 1s
	SlowThreshold time.Duration

	// Probe additionally writes, reads back and deletes a small entry.
	Probe bool
}

// StoreChecker verifies that a backend is reachable and, optionally,
// writable.
type StoreChecker struct {
	backend store.Backend
	config  StoreCheckerConfig
	probeFP fingerprint.Fingerprint
}

// NewStoreChecker creates a StoreChecker for backend.
func NewStoreChecker(backend store.Backend, config StoreCheckerConfig) *StoreChecker {
	if config.SlowThreshold <= 0 {
		config.SlowThreshold = time.Second
	}
	fp, _ := fingerprint.NewBuilder().Build("xpersist.health.probe", nil, nil, "")
	return &StoreChecker{backend: backend, config: config, probeFP: fp}
}

// Name returns "store".
func (c *StoreChecker) Name() string { return "store" }

// Check pings the backend and runs the probe when configured.
func (c *StoreChecker) Check(ctx context.Context) Result {
	start := time.Now()
	details := map[string]any{"backend": string(c.backend.Kind())}

	if p, ok := c.backend.(store.Pinger); ok {
		if err := p.Ping(ctx); err != nil {
			return Unhealthy("backend unreachable", err).WithDetails(details)
		}
	}
	if c.config.Probe {
		if err := c.probe(ctx); err != nil {
			return Unhealthy("probe failed", err).WithDetails(details)
		}
		details["probe"] = "ok"
	}

	elapsed := time.Since(start)
	details["latency_ms"] = elapsed.Milliseconds()
	if elapsed > c.config.SlowThreshold {
		return Degraded(fmt.Sprintf("backend slow: %s", elapsed.Round(time.Millisecond))).WithDetails(details)
	}
	return Healthy("backend reachable").WithDetails(details)
}

func (c *StoreChecker) probe(ctx context.Context) error {
	payload := []byte(time.Now().UTC().Format(time.RFC3339Nano))
	_, err := store.WithWriter(ctx, c.backend, c.probeFP, func(w store.WriteHandle) (store.Entry, error) {
		f, err := w.Create(probeFile)
		if err != nil {
			return store.Entry{}, err
		}
		if _, err := f.Write(payload); err != nil {
			_ = f.Close()
			return store.Entry{}, err
		}
		if err := f.Close(); err != nil {
			return store.Entry{}, err
		}
		return store.Entry{Name: "xpersist.health.probe", Serializer: "probe", Size: int64(len(payload))}, nil
	})
	if err != nil {
		return err
	}
	defer func() { _ = c.backend.Delete(context.WithoutCancel(ctx), c.probeFP) }()

	return store.WithReader(ctx, c.backend, c.probeFP, func(r store.ReadHandle) error {
		rc, err := r.Open(probeFile)
		if err != nil {
			return err
		}
		defer rc.Close()
		got, err := io.ReadAll(rc)
		if err != nil {
			return err
		}
		if string(got) != string(payload) {
			return fmt.Errorf("%w: probe read back %d bytes, wrote %d", ErrCheckFailed, len(got), len(payload))
		}
		return nil
	})
}
