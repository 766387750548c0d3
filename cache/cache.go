package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jonwraymond/xpersist/fingerprint"
	"github.com/jonwraymond/xpersist/lock"
	"github.com/jonwraymond/xpersist/observe"
	"github.com/jonwraymond/xpersist/resilience"
	"github.com/jonwraymond/xpersist/serial"
	"github.com/jonwraymond/xpersist/store"
)

// Cache coordinates fingerprinting, locking, storage and serialization.
//
// Contract:
// - Concurrency: safe for concurrent use; at most one computation per
// fingerprint runs at a time within the process.
// - Context: blocking operations honor cancellation.
// - Errors: fingerprint, serialization, storage and compute errors are
// returned unchanged.
type Cache struct {
	backend     store.Backend
	builder     *fingerprint.Builder
	serializers *serial.Registry
	serializer  string
	version     string
	locks       *lock.Manager
	policy      Policy
	bulkhead    *resilience.Bulkhead
	mw          *observe.Middleware
	onClose     []func() error
	closed      atomic.Bool
}

// Option configures a Cache.
type Option func(*Cache)

// WithPolicy sets the caching policy.
func WithPolicy(p Policy) Option {
	return func(c *Cache) { c.policy = p }
}

// WithVersion sets the cache-wide version tag. Per-call WithVersion wins.
func WithVersion(tag string) Option {
	return func(c *Cache) { c.version = tag }
}

// WithSerializers replaces the serializer registry.
// Default: serial.DefaultRegistry()
func WithSerializers(r *serial.Registry) Option {
	return func(c *Cache) {
		if r != nil {
			c.serializers = r
		}
	}
}

// WithDefaultSerializer forces a serializer for calls that do not name one.
// Empty selects by result type.
func WithDefaultSerializer(name string) Option {
	return func(c *Cache) { c.serializer = name }
}

// WithBuilder sets the fingerprint builder.
func WithBuilder(b *fingerprint.Builder) Option {
	return func(c *Cache) {
		if b != nil {
			c.builder = b
		}
	}
}

// WithLockManager sets the lock manager, for example one backed by a
// cross-process FileLocker.
func WithLockManager(m *lock.Manager) Option {
	return func(c *Cache) {
		if m != nil {
			c.locks = m
		}
	}
}

// WithMiddleware instruments calls with tracing, metrics and logging.
func WithMiddleware(mw *observe.Middleware) Option {
	return func(c *Cache) {
		if mw != nil {
			c.mw = mw
		}
	}
}

// WithCloseHook runs fn after the backend is closed, for example to flush
// telemetry.
func WithCloseHook(fn func() error) Option {
	return func(c *Cache) {
		if fn != nil {
			c.onClose = append(c.onClose, fn)
		}
	}
}

// New creates a Cache over backend.
func New(backend store.Backend, opts ...Option) (*Cache, error) {
	if backend == nil {
		return nil, ErrNilBackend
	}
	c := &Cache{
		backend:     backend,
		builder:     fingerprint.NewBuilder(),
		serializers: serial.DefaultRegistry(),
		locks:       lock.NewManager(),
		policy:      DefaultPolicy(),
		mw:          observe.NopMiddleware(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.policy.Validate(); err != nil {
		return nil, err
	}
	if c.serializer != "" {
		if _, err := c.serializers.Get(c.serializer); err != nil {
			return nil, err
		}
	}
	if n := c.policy.MaxConcurrentComputes; n > 0 {
		c.bulkhead = resilience.NewBulkhead(resilience.BulkheadConfig{MaxConcurrent: n, MaxWait: -1})
	}
	return c, nil
}

// Backend returns the underlying store.
func (c *Cache) Backend() store.Backend { return c.backend }

// Version returns the cache-wide version tag.
func (c *Cache) Version() string { return c.version }

// Policy returns the caching policy.
func (c *Cache) Policy() Policy { return c.policy }

// Fingerprint derives the fingerprint GetOrCompute would use for call.
func (c *Cache) Fingerprint(call Call, opts ...CallOption) (fingerprint.Fingerprint, error) {
	o := c.callOptions(opts)
	return c.builder.Build(call.Name, call.Args, call.Kwargs, o.version)
}

// Lookup returns the metadata of the entry for fp without loading it.
// It returns store.ErrNotFound on a miss.
func (c *Cache) Lookup(ctx context.Context, fp fingerprint.Fingerprint) (store.Entry, error) {
	if c.closed.Load() {
		return store.Entry{}, ErrClosed
	}
	entry, err := c.backend.ReadMetadata(ctx, fp)
	if err != nil {
		return store.Entry{}, err
	}
	if entry == nil {
		return store.Entry{}, fmt.Errorf("%w: %s", store.ErrNotFound, fp.Short())
	}
	return *entry, nil
}

// Entries lists every stored entry.
func (c *Cache) Entries(ctx context.Context) ([]store.Entry, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	return c.backend.List(ctx)
}

// Invalidate deletes the entry for fp under its lock. Deleting a missing
// entry is not an error.
func (c *Cache) Invalidate(ctx context.Context, fp fingerprint.Fingerprint) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if err := fp.Validate(); err != nil {
		return err
	}
	_, err := c.mw.Wrap(func(ctx context.Context, _ observe.CallMeta) (observe.CallResult, error) {
		res := observe.CallResult{Fingerprint: fp.String()}
		tok, err := c.locks.Acquire(ctx, fp.Hex())
		if err != nil {
			return res, err
		}
		defer c.release(ctx, tok, "", fp)
		return res, c.backend.Delete(ctx, fp)
	})(ctx, observe.CallMeta{Op: "invalidate", Name: fp.Short(), Backend: string(c.backend.Kind())})
	return err
}

// PruneOptions selects entries to delete.
type PruneOptions struct {
	// OlderThan removes entries created before now minus OlderThan.
	// Zero matches every age.
	OlderThan time.Duration

	// Name restricts pruning to one computation name. Empty matches all.
	Name string

	// DryRun reports matching entries without deleting them.
	DryRun bool
}

// PruneReport describes what Prune removed.
type PruneReport struct {
	Removed []store.Entry
	// Swept counts abandoned temporary artifacts removed by the backend.
	Swept int
}

// Prune deletes the entries matching opts. When the backend supports it,
// temporary artifacts older than OlderThan (or one hour) are swept too.
func (c *Cache) Prune(ctx context.Context, opts PruneOptions) (PruneReport, error) {
	if c.closed.Load() {
		return PruneReport{}, ErrClosed
	}
	entries, err := c.backend.List(ctx)
	if err != nil {
		return PruneReport{}, err
	}

	cutoff := time.Now().Add(-opts.OlderThan)
	var report PruneReport
	for _, e := range entries {
		if opts.Name != "" && e.Name != opts.Name {
			continue
		}
		if opts.OlderThan > 0 && !e.CreatedAt.Before(cutoff) {
			continue
		}
		report.Removed = append(report.Removed, e)
	}
	if opts.DryRun {
		return report, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, e := range report.Removed {
		g.Go(func() error {
			return c.Invalidate(gctx, e.Fingerprint)
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}

	if sw, ok := c.backend.(store.Sweeper); ok {
		age := opts.OlderThan
		if age <= 0 {
			age = time.Hour
		}
		n, err := sw.Sweep(ctx, age)
		report.Swept = n
		if err != nil {
			return report, err
		}
	}
	return report, nil
}

// Ping checks backend connectivity when the backend supports it.
func (c *Cache) Ping(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if p, ok := c.backend.(store.Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Close closes the backend and runs the close hooks. Further calls return
// ErrClosed.
func (c *Cache) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	errs := []error{c.backend.Close()}
	for _, fn := range c.onClose {
		errs = append(errs, fn())
	}
	return errors.Join(errs...)
}

// warn reports w on the warning channel.
func (c *Cache) warn(ctx context.Context, w Warning) {
	c.mw.Logger().Warn(ctx, "cache warning",
		observe.Field{Key: "op", Value: w.Op},
		observe.Field{Key: "name", Value: w.Name},
		observe.Field{Key: "fingerprint", Value: w.Fingerprint.String()},
		observe.Field{Key: "error", Value: w.Err.Error()},
	)
	if c.policy.OnWarning != nil {
		c.policy.OnWarning(w)
	}
}

func (c *Cache) release(ctx context.Context, tok *lock.Token, name string, fp fingerprint.Fingerprint) {
	if err := tok.Release(); err != nil {
		c.warn(ctx, Warning{Op: "unlock", Name: name, Fingerprint: fp, Err: err})
	}
}

// pruneSuperseded deletes entries named like keep but stored under another
// fingerprint. It returns how many were removed.
func (c *Cache) pruneSuperseded(ctx context.Context, keep store.Entry) int {
	entries, err := c.backend.List(ctx)
	if err != nil {
		c.warn(ctx, Warning{Op: "prune", Name: keep.Name, Fingerprint: keep.Fingerprint, Err: err})
		return 0
	}
	removed := 0
	for _, e := range entries {
		if e.Name != keep.Name || e.Fingerprint == keep.Fingerprint {
			continue
		}
		// No lock is taken: the caller holds keep's lock and locks never nest.
		if err := c.backend.Delete(ctx, e.Fingerprint); err != nil {
			c.warn(ctx, Warning{Op: "prune", Name: e.Name, Fingerprint: e.Fingerprint, Err: err})
			continue
		}
		removed++
	}
	return removed
}

func isRecoverableLoad(err error) bool {
	return errors.Is(err, serial.ErrCorrupt) || errors.Is(err, store.ErrNotFound)
}
