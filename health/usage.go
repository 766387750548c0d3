package health

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/jonwraymond/xpersist/store"
)

// UsageCheckerConfig configures a UsageChecker.
type UsageCheckerConfig struct {
	// Quota is the intended upper bound on stored bytes. Zero disables the
	// thresholds and only reports usage.
	Quota uint64

	// WarningThreshold is the fraction of Quota that marks the cache degraded.
	// Default: 0.8
	WarningThreshold float64

	// CriticalThreshold is the fraction of Quota that marks it unhealthy.
	// Default: 0.95
	CriticalThreshold float64
}

// UsageChecker reports how much a cache stores relative to a quota.
type UsageChecker struct {
	backend store.Backend
	config  UsageCheckerConfig
}

// NewUsageChecker creates a UsageChecker.
func NewUsageChecker(backend store.Backend, config UsageCheckerConfig) *UsageChecker {
	if config.WarningThreshold <= 0 || config.WarningThreshold >= 1 {
		config.WarningThreshold = 0.8
	}
	if config.CriticalThreshold <= 0 || config.CriticalThreshold > 1 {
		config.CriticalThreshold = 0.95
	}
	if config.CriticalThreshold < config.WarningThreshold {
		config.CriticalThreshold = config.WarningThreshold
	}
	return &UsageChecker{backend: backend, config: config}
}

// Name returns "usage".
func (c *UsageChecker) Name() string { return "usage" }

// Check lists entries and compares their stored size with the quota.
func (c *UsageChecker) Check(ctx context.Context) Result {
	entries, err := c.backend.List(ctx)
	if err != nil {
		return Unhealthy("listing entries failed", err)
	}
	var used uint64
	for _, e := range entries {
		used += uint64(max(e.StoredBytes, 0))
	}
	details := map[string]any{
		"entries":      len(entries),
		"stored_bytes": used,
	}
	if c.config.Quota == 0 {
		return Healthy(fmt.Sprintf("%d entries, %s", len(entries), humanize.IBytes(used))).WithDetails(details)
	}

	ratio := float64(used) / float64(c.config.Quota)
	details["quota_bytes"] = c.config.Quota
	details["usage_percent"] = ratio * 100
	msg := fmt.Sprintf("%s of %s (%.1f%%)", humanize.IBytes(used), humanize.IBytes(c.config.Quota), ratio*100)
	switch {
	case ratio >= c.config.CriticalThreshold:
		return Unhealthy("usage critical: "+msg, ErrCheckFailed).WithDetails(details)
	case ratio >= c.config.WarningThreshold:
		return Degraded("usage high: " + msg).WithDetails(details)
	}
	return Healthy("usage normal: " + msg).WithDetails(details)
}
