package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	xerrors "github.com/jmgilman/go/errors"
	"gopkg.in/yaml.v3"

	"github.com/jonwraymond/xpersist/cache"
	"github.com/jonwraymond/xpersist/observe"
	"github.com/jonwraymond/xpersist/observe/exporters"
	"github.com/jonwraymond/xpersist/secret"
	"github.com/jonwraymond/xpersist/serial"
)

// Sentinel errors for configuration.
var (
	// ErrInvalidConfig indicates a value failed validation.
	ErrInvalidConfig = xerrors.New(xerrors.CodeInvalidInput, "config: invalid configuration")

	// ErrUnknownBackend indicates Backend names no registered factory.
	ErrUnknownBackend = xerrors.New(xerrors.CodeInvalidInput, "config: unknown backend")
)

// Config describes a cache deployment. It is usually read from YAML:
//
//	cache_dir: /var/cache/xpersist
//	backend: local
//	chunk_size: 4MiB
//	lock: {cross_process: true, stale_after: 10m}
//
// String values may reference the environment (${VAR}) and secrets
// (secretref:<provider>:<ref>).
type Config struct {
	// CacheDir is the root of the local backend and of cross-process lock
	// files.
	CacheDir string `yaml:"cache_dir"`

	// Backend selects a registered backend factory.
	// Default: "local"
	Backend string `yaml:"backend"`

	// Serializer forces a serializer for every call. Empty selects by
	// result type.
	Serializer string `yaml:"serializer"`

	// Version is the cache-wide version tag mixed into fingerprints.
	Version string `yaml:"version"`

	// ChunkSize is the raw size of one chunk file, such as "4MiB".
	// Default: "4MiB"
	ChunkSize string `yaml:"chunk_size"`

	// Parallelism bounds how many variables are encoded at once.
	// Default: 4
	Parallelism int `yaml:"parallelism"`

	// Compression is the chunk encoding: zstd or none.
	// Default: "zstd"
	Compression string `yaml:"compression"`

	// WriteFailure is fail-closed or fail-open.
	// Default: "fail-closed"
	WriteFailure string `yaml:"write_failure"`

	// PruneSuperseded deletes older entries of a name after a new one is
	// stored.
	PruneSuperseded bool `yaml:"prune_superseded"`

	// MaxConcurrentComputes bounds concurrent computations. Zero is
	// unbounded.
	MaxConcurrentComputes int `yaml:"max_concurrent_computes"`

	// GenerationGrace keeps superseded local generations for readers.
	// Default: 1m
	GenerationGrace time.Duration `yaml:"generation_grace"`

	Lock    LockConfig                `yaml:"lock"`
	Remote  RemoteConfig              `yaml:"remote"`
	Observe ObserveConfig             `yaml:"observe"`
	Secrets map[string]map[string]any `yaml:"secrets"`
}

// LockConfig configures cross-process locking.
type LockConfig struct {
	// CrossProcess claims fingerprints with lock files under CacheDir.
	CrossProcess bool `yaml:"cross_process"`

	// StaleAfter is the age after which a claim is broken.
	// Default: 10m
	StaleAfter time.Duration `yaml:"stale_after"`

	// PollInterval is the delay between claim attempts.
	// Default: 50ms
	PollInterval time.Duration `yaml:"poll_interval"`
}

// RemoteConfig configures the minio and s3 backends.
type RemoteConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	Region    string `yaml:"region"`
	Profile   string `yaml:"profile"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
	PathStyle bool   `yaml:"path_style"`

	// Timeout bounds one object call.
	// Default: 30s
	Timeout time.Duration `yaml:"timeout"`

	// MaxAttempts bounds retries of one object call.
	// Default: 3
	MaxAttempts int `yaml:"max_attempts"`

	// FailureThreshold opens the circuit after that many consecutive
	// transient failures.
	// Default: 5
	FailureThreshold int `yaml:"failure_threshold"`

	// ResetTimeout is how long an open circuit waits before probing.
	// Default: 30s
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// ObserveConfig mirrors observe.Config in YAML form.
type ObserveConfig struct {
	ServiceName string `yaml:"service_name"`
	Tracing     struct {
		Enabled   bool    `yaml:"enabled"`
		Exporter  string  `yaml:"exporter"`
		SamplePct float64 `yaml:"sample_pct"`
	} `yaml:"tracing"`
	Metrics struct {
		Enabled  bool   `yaml:"enabled"`
		Exporter string `yaml:"exporter"`
	} `yaml:"metrics"`
	Logging struct {
		Enabled bool   `yaml:"enabled"`
		Level   string `yaml:"level"`
		Format  string `yaml:"format"`
	} `yaml:"logging"`
}

// Enabled reports whether any telemetry is configured.
func (o ObserveConfig) Enabled() bool {
	return o.Tracing.Enabled || o.Metrics.Enabled || o.Logging.Enabled
}

// ToObserve converts to an observe.Config. Logs and stdout exporters write
// to stderr.
func (o ObserveConfig) ToObserve(version string) observe.Config {
	name := o.ServiceName
	if name == "" {
		name = "xpersist"
	}
	return observe.Config{
		ServiceName: name,
		Version:     version,
		Tracing: observe.TracingConfig{
			Enabled:   o.Tracing.Enabled,
			Exporter:  o.Tracing.Exporter,
			SamplePct: o.Tracing.SamplePct,
		},
		Metrics: observe.MetricsConfig{
			Enabled:  o.Metrics.Enabled,
			Exporter: o.Metrics.Exporter,
		},
		Logging: observe.LoggingConfig{
			Enabled: o.Logging.Enabled,
			Level:   o.Logging.Level,
			Format:  o.Logging.Format,
		},
		Exporters: exporters.Options{Writer: os.Stderr},
	}
}

// Default returns the configuration used for unset fields.
func Default() Config {
	return Config{
		Backend:      "local",
		ChunkSize:    "4MiB",
		Parallelism:  4,
		Compression:  string(serial.CompressionZstd),
		WriteFailure: cache.FailClosed.String(),
		Remote: RemoteConfig{
			Timeout:          30 * time.Second,
			MaxAttempts:      3,
			FailureThreshold: 5,
			ResetTimeout:     30 * time.Second,
		},
	}
}

// Override adjusts a decoded Config before it is validated.
type Override func(*Config)

// Load reads and resolves the YAML file at path.
func Load(ctx context.Context, path string, overrides ...Override) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(ctx, data, overrides...)
}

// Parse decodes YAML over Default, expands references, applies overrides
// and validates the result. Unknown keys are rejected.
func Parse(ctx context.Context, data []byte, overrides ...Override) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := cfg.Resolve(ctx); err != nil {
		return nil, err
	}
	for _, o := range overrides {
		o(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Resolve expands environment and secret references in string values.
// Providers other than env are created from the secrets section through
// secret.DefaultRegistry.
func (c *Config) Resolve(ctx context.Context) error {
	resolver := secret.NewResolver(true, secret.NewEnvProvider())
	defer func() { _ = resolver.Close() }()
	for name, pcfg := range c.Secrets {
		p, err := secret.DefaultRegistry.Create(name, pcfg)
		if err != nil {
			return fmt.Errorf("config: secrets.%s: %w", name, err)
		}
		resolver.Register(p)
	}

	fields := map[string]*string{
		"cache_dir":         &c.CacheDir,
		"backend":           &c.Backend,
		"serializer":        &c.Serializer,
		"version":           &c.Version,
		"chunk_size":        &c.ChunkSize,
		"remote.endpoint":   &c.Remote.Endpoint,
		"remote.bucket":     &c.Remote.Bucket,
		"remote.prefix":     &c.Remote.Prefix,
		"remote.region":     &c.Remote.Region,
		"remote.profile":    &c.Remote.Profile,
		"remote.access_key": &c.Remote.AccessKey,
		"remote.secret_key": &c.Remote.SecretKey,
	}
	for key, p := range fields {
		v, err := resolver.ResolveValue(ctx, *p)
		if err != nil {
			return fmt.Errorf("config: %s: %w", key, err)
		}
		*p = v
	}
	return nil
}

// ChunkBytes parses ChunkSize.
func (c *Config) ChunkBytes() (int64, error) {
	if c.ChunkSize == "" {
		return serial.DefaultChunkSize, nil
	}
	n, err := humanize.ParseBytes(c.ChunkSize)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("%w: chunk_size %q", ErrInvalidConfig, c.ChunkSize)
	}
	return int64(n), nil
}

// Validate reports the first invalid value.
func (c *Config) Validate() error {
	if _, err := c.ChunkBytes(); err != nil {
		return err
	}
	if _, err := cache.ParseWriteFailureMode(c.WriteFailure); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	switch serial.Compression(c.Compression) {
	case "", serial.CompressionZstd, serial.CompressionNone:
	default:
		return fmt.Errorf("%w: compression %q", ErrInvalidConfig, c.Compression)
	}
	if c.Parallelism < 0 {
		return fmt.Errorf("%w: parallelism must not be negative", ErrInvalidConfig)
	}
	if c.MaxConcurrentComputes < 0 {
		return fmt.Errorf("%w: max_concurrent_computes must not be negative", ErrInvalidConfig)
	}
	if !hasBackend(c.Backend) {
		return fmt.Errorf("%w: %q", ErrUnknownBackend, c.Backend)
	}
	if c.Backend == "local" && c.CacheDir == "" {
		return fmt.Errorf("%w: cache_dir is required for the local backend", ErrInvalidConfig)
	}
	if (c.Backend == "minio" || c.Backend == "s3") && c.Remote.Bucket == "" {
		return fmt.Errorf("%w: remote.bucket is required for the %s backend", ErrInvalidConfig, c.Backend)
	}
	if c.Lock.CrossProcess && c.CacheDir == "" {
		return fmt.Errorf("%w: lock.cross_process requires cache_dir", ErrInvalidConfig)
	}
	if c.Observe.Enabled() {
		oc := c.Observe.ToObserve(c.Version)
		if err := oc.Validate(); err != nil {
			return fmt.Errorf("%w: observe: %w", ErrInvalidConfig, err)
		}
	}
	return nil
}
