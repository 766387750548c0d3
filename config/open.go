package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/jmgilman/go/fs/billy"

	"github.com/jonwraymond/xpersist/cache"
	"github.com/jonwraymond/xpersist/lock"
	"github.com/jonwraymond/xpersist/observe"
	"github.com/jonwraymond/xpersist/serial"
)

// shutdownTimeout bounds the telemetry flush in Cache.Close.
const shutdownTimeout = 5 * time.Second

// Open builds a Cache from cfg: the backend, serializers, policy, lock
// manager and telemetry. Closing the cache closes the backend and flushes
// telemetry.
func Open(ctx context.Context, cfg *Config) (*cache.Cache, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config is nil", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var opts []cache.Option
	mw := observe.NopMiddleware()
	shutdown := func() error { return nil }
	if cfg.Observe.Enabled() {
		obs, err := newObserver(ctx, cfg.Observe.ToObserve(cfg.Version))
		if err != nil {
			return nil, err
		}
		shutdown = func() error {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return obs.Shutdown(ctx)
		}
		mw, err = observe.MiddlewareFromObserver(obs)
		if err != nil {
			return nil, errors.Join(err, shutdown())
		}
		opts = append(opts, cache.WithMiddleware(mw), cache.WithCloseHook(shutdown))
	}

	c, err := cfg.open(ctx, mw, opts)
	if err != nil {
		return nil, errors.Join(err, shutdown())
	}
	return c, nil
}

// newObserver is replaced in tests.
var newObserver = observe.NewObserver

func (c *Config) open(ctx context.Context, mw *observe.Middleware, opts []cache.Option) (*cache.Cache, error) {
	serializers, err := c.serializers()
	if err != nil {
		return nil, err
	}
	policy, err := c.policy()
	if err != nil {
		return nil, err
	}
	opts = append(opts,
		cache.WithSerializers(serializers),
		cache.WithDefaultSerializer(c.Serializer),
		cache.WithVersion(c.Version),
		cache.WithPolicy(policy),
	)

	if c.Lock.CrossProcess {
		locks, err := c.lockManager(mw.Logger())
		if err != nil {
			return nil, err
		}
		opts = append(opts, cache.WithLockManager(locks))
	}

	backend, err := NewBackend(ctx, c)
	if err != nil {
		return nil, err
	}
	cc, err := cache.New(backend, opts...)
	if err != nil {
		return nil, errors.Join(err, backend.Close())
	}
	return cc, nil
}

func (c *Config) serializers() (*serial.Registry, error) {
	chunk, err := c.ChunkBytes()
	if err != nil {
		return nil, err
	}
	compression := serial.Compression(c.Compression)
	return serial.NewRegistry(
		serial.NewDataset(serial.DatasetConfig{
			ChunkSize:   chunk,
			Parallelism: c.Parallelism,
			Compression: compression,
		}),
		serial.NewBytes(serial.BytesConfig{ChunkSize: chunk, Compression: compression}),
		serial.NewJSON(),
	), nil
}

func (c *Config) policy() (cache.Policy, error) {
	mode, err := cache.ParseWriteFailureMode(c.WriteFailure)
	if err != nil {
		return cache.Policy{}, err
	}
	p := cache.DefaultPolicy()
	p.WriteFailure = mode
	p.PruneSuperseded = c.PruneSuperseded
	p.MaxConcurrentComputes = c.MaxConcurrentComputes
	return p, nil
}

// lockManager claims fingerprints with files under <cache_dir>/locks.
func (c *Config) lockManager(logger observe.Logger) (*lock.Manager, error) {
	abs, err := filepath.Abs(c.CacheDir)
	if err != nil {
		return nil, err
	}
	local := billy.NewLocal()
	if err := local.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("config: create %s: %w", abs, err)
	}
	fsys, err := local.Chroot(abs)
	if err != nil {
		return nil, err
	}
	files, err := lock.NewFileLocker(fsys, lock.FileConfig{
		PollInterval: c.Lock.PollInterval,
		StaleAfter:   c.Lock.StaleAfter,
	})
	if err != nil {
		return nil, err
	}
	return lock.NewManager(
		lock.WithFileLocker(files),
		lock.WithWaitHook(func(key string, waited time.Duration) {
			logger.Debug(context.Background(), "waited for lock",
				observe.Field{Key: "fingerprint", Value: key},
				observe.Field{Key: "waited", Value: waited.String()},
			)
		}),
	), nil
}
