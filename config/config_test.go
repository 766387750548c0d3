package config_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonwraymond/xpersist/cache"
	"github.com/jonwraymond/xpersist/config"
	"github.com/jonwraymond/xpersist/secret"
	"github.com/jonwraymond/xpersist/serial"
	"github.com/jonwraymond/xpersist/store"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := config.Parse(context.Background(), []byte("cache_dir: /tmp/xpersist\n"))
	require.NoError(t, err)

	assert.Equal(t, "/tmp/xpersist", cfg.CacheDir)
	assert.Equal(t, "local", cfg.Backend)
	assert.Equal(t, 4, cfg.Parallelism)
	assert.Equal(t, "fail-closed", cfg.WriteFailure)
	assert.Equal(t, 30*time.Second, cfg.Remote.Timeout)

	n, err := cfg.ChunkBytes()
	require.NoError(t, err)
	assert.Equal(t, serial.DefaultChunkSize, n)
}

func TestParse_Full(t *testing.T) {
	t.Setenv("XPERSIST_TEST_ROOT", "/data")
	t.Setenv("XPERSIST_TEST_ACCESS", "AKIAEXAMPLE")

	secrets := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(secrets, "minio-secret"), []byte("s3cr3t\n"), 0o600))

	doc := `
cache_dir: ${XPERSIST_TEST_ROOT}/cache
backend: minio
serializer: json/v1
version: v2
chunk_size: 512KiB
parallelism: 2
compression: none
write_failure: fail-open
prune_superseded: true
max_concurrent_computes: 8
lock:
  cross_process: true
  stale_after: 5m
  poll_interval: 100ms
remote:
  endpoint: localhost:9000
  bucket: results
  prefix: team/a
  access_key: secretref:env:XPERSIST_TEST_ACCESS
  secret_key: secretref:file:minio-secret
  timeout: 10s
  max_attempts: 5
secrets:
  file:
    dir: ` + secrets + `
`
	cfg, err := config.Parse(context.Background(), []byte(doc))
	require.NoError(t, err)

	assert.Equal(t, "/data/cache", cfg.CacheDir)
	assert.Equal(t, "minio", cfg.Backend)
	assert.Equal(t, "json/v1", cfg.Serializer)
	assert.Equal(t, "v2", cfg.Version)
	assert.Equal(t, "none", cfg.Compression)
	assert.True(t, cfg.PruneSuperseded)
	assert.Equal(t, 8, cfg.MaxConcurrentComputes)
	assert.True(t, cfg.Lock.CrossProcess)
	assert.Equal(t, 5*time.Minute, cfg.Lock.StaleAfter)
	assert.Equal(t, 100*time.Millisecond, cfg.Lock.PollInterval)
	assert.Equal(t, "AKIAEXAMPLE", cfg.Remote.AccessKey)
	assert.Equal(t, "s3cr3t", cfg.Remote.SecretKey)
	assert.Equal(t, 10*time.Second, cfg.Remote.Timeout)
	assert.Equal(t, 5, cfg.Remote.MaxAttempts)
	assert.Equal(t, 5, cfg.Remote.FailureThreshold, "unset keys keep their defaults")

	n, err := cfg.ChunkBytes()
	require.NoError(t, err)
	assert.Equal(t, int64(512*1024), n)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want error
	}{
		{name: "unknown key", doc: "cache_dir: /x\ncache_size: 3\n", want: config.ErrInvalidConfig},
		{name: "chunk size", doc: "cache_dir: /x\nchunk_size: lots\n", want: config.ErrInvalidConfig},
		{name: "zero chunk size", doc: "cache_dir: /x\nchunk_size: 0B\n", want: config.ErrInvalidConfig},
		{name: "write failure", doc: "cache_dir: /x\nwrite_failure: sometimes\n", want: config.ErrInvalidConfig},
		{name: "compression", doc: "cache_dir: /x\ncompression: lz4\n", want: config.ErrInvalidConfig},
		{name: "parallelism", doc: "cache_dir: /x\nparallelism: -1\n", want: config.ErrInvalidConfig},
		{name: "bound", doc: "cache_dir: /x\nmax_concurrent_computes: -2\n", want: config.ErrInvalidConfig},
		{name: "unknown backend", doc: "backend: tape\n", want: config.ErrUnknownBackend},
		{name: "local without dir", doc: "backend: local\n", want: config.ErrInvalidConfig},
		{name: "remote without bucket", doc: "backend: s3\n", want: config.ErrInvalidConfig},
		{name: "cross process without dir", doc: "backend: memory\nlock: {cross_process: true}\n", want: config.ErrInvalidConfig},
		{name: "log level", doc: "backend: memory\nobserve: {logging: {enabled: true, level: loud}}\n", want: config.ErrInvalidConfig},
		{name: "missing env", doc: "cache_dir: ${XPERSIST_TEST_UNSET_VAR}\n", want: secret.ErrMissingEnv},
		{name: "unknown secret provider", doc: "backend: memory\nsecrets: {vault: {}}\n", want: secret.ErrUnknownProvider},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Parse(context.Background(), []byte(tt.doc))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "xpersist.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backend: memory\nversion: v1\n"), 0o600))

	cfg, err := config.Load(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Backend)

	_, err = config.Load(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestParse_Overrides(t *testing.T) {
	dir := t.TempDir()
	_, err := config.Parse(context.Background(), []byte("backend: local\n"))
	require.ErrorIs(t, err, config.ErrInvalidConfig)

	cfg, err := config.Parse(context.Background(), []byte("backend: local\n"), func(c *config.Config) {
		c.CacheDir = dir
	})
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.CacheDir)
}

func TestRegisterBackend(t *testing.T) {
	var built int
	err := config.RegisterBackend("test-counting", func(_ context.Context, _ *config.Config) (store.Backend, error) {
		built++
		return store.NewMemoryStore(), nil
	})
	require.NoError(t, err)
	assert.Contains(t, config.Backends(), "test-counting")

	err = config.RegisterBackend("test-counting", func(context.Context, *config.Config) (store.Backend, error) {
		return nil, nil
	})
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
	assert.ErrorIs(t, config.RegisterBackend("", nil), config.ErrInvalidConfig)

	cfg, err := config.Parse(context.Background(), []byte("backend: test-counting\n"))
	require.NoError(t, err)
	c, err := config.Open(context.Background(), cfg)
	require.NoError(t, err)
	defer c.Close()
	assert.Equal(t, 1, built)
}

func TestOpen_Memory(t *testing.T) {
	cfg, err := config.Parse(context.Background(), []byte("backend: memory\nversion: v3\nwrite_failure: fail-open\nprune_superseded: true\n"))
	require.NoError(t, err)

	c, err := config.Open(context.Background(), cfg)
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, store.KindMemory, c.Backend().Kind())
	assert.Equal(t, "v3", c.Version())
	assert.Equal(t, cache.FailOpen, c.Policy().WriteFailure)
	assert.True(t, c.Policy().PruneSuperseded)

	ctx := context.Background()
	calls := 0
	compute := func(context.Context) (map[string]int, error) {
		calls++
		return map[string]int{"n": 42}, nil
	}
	call := cache.Call{Name: "config.test", Args: []any{1}}
	for range 2 {
		got, err := cache.GetOrCompute(ctx, c, call, compute)
		require.NoError(t, err)
		assert.Equal(t, 42, got["n"])
	}
	assert.Equal(t, 1, calls)
}

func TestOpen_LocalCrossProcess(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.CacheDir = dir
	cfg.ChunkSize = "1KiB"
	cfg.Lock.CrossProcess = true
	cfg.Lock.PollInterval = 5 * time.Millisecond

	c, err := config.Open(context.Background(), &cfg)
	require.NoError(t, err)
	defer c.Close()
	assert.Equal(t, store.KindLocal, c.Backend().Kind())

	payload := make([]byte, 4096)
	for i := range payload {
		payload[i] = byte(i)
	}
	var out cache.Outcome
	got, err := cache.GetOrCompute(context.Background(), c, cache.Call{Name: "config.blob"},
		func(context.Context) ([]byte, error) { return payload, nil },
		cache.WithOutcome(&out),
	)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.Equal(t, cache.ActionCreate, out.Action)
	assert.Equal(t, serial.BytesName, out.Entry.Serializer)
	assert.Greater(t, len(out.Entry.Files), 2, "a 1KiB chunk size splits the payload")

	_, err = os.Stat(filepath.Join(dir, "locks"))
	assert.NoError(t, err, "cross-process locks live under the cache dir")
}

func TestOpen_InvalidSerializer(t *testing.T) {
	cfg := config.Default()
	cfg.Backend = "memory"
	cfg.Serializer = "pickle/v1"

	_, err := config.Open(context.Background(), &cfg)
	assert.ErrorIs(t, err, serial.ErrUnknownSerializer)

	_, err = config.Open(context.Background(), nil)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}
