package config

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/jonwraymond/xpersist/resilience"
	"github.com/jonwraymond/xpersist/store"
	"github.com/jonwraymond/xpersist/store/objstore"
)

// BackendFactory builds a backend from a resolved Config.
type BackendFactory func(ctx context.Context, cfg *Config) (store.Backend, error)

var backends = struct {
	mu sync.RWMutex
	m  map[string]BackendFactory
}{m: map[string]BackendFactory{
	"local":  newLocalBackend,
	"memory": newMemoryBackend,
	"minio":  newMinIOBackend,
	"s3":     newS3Backend,
}}

// RegisterBackend makes factory available under name. Registering a name
// twice is an error.
func RegisterBackend(name string, factory BackendFactory) error {
	name = strings.TrimSpace(name)
	if name == "" || factory == nil {
		return fmt.Errorf("%w: backend name and factory are required", ErrInvalidConfig)
	}
	backends.mu.Lock()
	defer backends.mu.Unlock()
	if _, ok := backends.m[name]; ok {
		return fmt.Errorf("%w: backend %q already registered", ErrInvalidConfig, name)
	}
	backends.m[name] = factory
	return nil
}

// Backends returns the registered backend names, sorted.
func Backends() []string {
	backends.mu.RLock()
	defer backends.mu.RUnlock()
	names := make([]string, 0, len(backends.m))
	for name := range backends.m {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func hasBackend(name string) bool {
	backends.mu.RLock()
	defer backends.mu.RUnlock()
	_, ok := backends.m[name]
	return ok
}

// NewBackend builds the backend cfg names.
func NewBackend(ctx context.Context, cfg *Config) (store.Backend, error) {
	backends.mu.RLock()
	factory, ok := backends.m[cfg.Backend]
	backends.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
	return factory(ctx, cfg)
}

func newLocalBackend(_ context.Context, cfg *Config) (store.Backend, error) {
	return store.NewLocal(cfg.CacheDir, store.FSConfig{GenerationGrace: cfg.GenerationGrace})
}

func newMemoryBackend(context.Context, *Config) (store.Backend, error) {
	return store.NewMemoryStore(), nil
}

func newMinIOBackend(_ context.Context, cfg *Config) (store.Backend, error) {
	r := cfg.Remote
	objects, err := objstore.NewMinIO(objstore.MinIOConfig{
		Endpoint:  r.Endpoint,
		Bucket:    r.Bucket,
		AccessKey: r.AccessKey,
		SecretKey: r.SecretKey,
		Region:    r.Region,
		UseSSL:    r.UseSSL,
	})
	if err != nil {
		return nil, err
	}
	return store.NewObject(objects, store.ObjectConfig{Prefix: r.Prefix, Executor: r.executor()}), nil
}

func newS3Backend(ctx context.Context, cfg *Config) (store.Backend, error) {
	r := cfg.Remote
	objects, err := objstore.NewS3(ctx, objstore.S3Config{
		Bucket:       r.Bucket,
		Region:       r.Region,
		Profile:      r.Profile,
		Endpoint:     r.Endpoint,
		UsePathStyle: r.PathStyle,
		AccessKey:    r.AccessKey,
		SecretKey:    r.SecretKey,
	})
	if err != nil {
		return nil, err
	}
	return store.NewObject(objects, store.ObjectConfig{Prefix: r.Prefix, Executor: r.executor()}), nil
}

// executor wraps every object call with a breaker, retries and a
// per-attempt timeout.
func (r RemoteConfig) executor() *resilience.Executor {
	opts := []resilience.ExecutorOption{
		resilience.WithCircuitBreaker(resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			MaxFailures:  r.FailureThreshold,
			ResetTimeout: r.ResetTimeout,
		})),
		resilience.WithRetry(resilience.NewRetry(resilience.RetryConfig{
			MaxAttempts: r.MaxAttempts,
			Jitter:      true,
		})),
	}
	if r.Timeout > 0 {
		opts = append(opts, resilience.WithTimeout(r.Timeout))
	}
	return resilience.NewExecutor(opts...)
}
