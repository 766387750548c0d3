package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonwraymond/xpersist/cache"
	"github.com/jonwraymond/xpersist/config"
	"github.com/jonwraymond/xpersist/fingerprint"
	"github.com/jonwraymond/xpersist/health"
	"github.com/jonwraymond/xpersist/store"
)

// seed stores one entry per name under a fresh local cache dir.
func seed(t *testing.T, names ...string) (string, []fingerprint.Fingerprint) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.CacheDir = dir
	c, err := config.Open(context.Background(), &cfg)
	require.NoError(t, err)
	defer c.Close()

	var fps []fingerprint.Fingerprint
	for i, name := range names {
		var out cache.Outcome
		_, err := cache.GetOrCompute(context.Background(), c, cache.Call{Name: name, Args: []any{i}},
			func(context.Context) ([]int, error) { return []int{i, i + 1}, nil },
			cache.WithOutcome(&out),
		)
		require.NoError(t, err)
		fps = append(fps, out.Fingerprint)
	}
	return dir, fps
}

func run(t *testing.T, args ...string) (string, int) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := realMain(context.Background(), append([]string{"xpersist"}, args...), &stdout, &stderr)
	return stdout.String() + stderr.String(), code
}

func TestLs(t *testing.T) {
	dir, fps := seed(t, "climate.mean", "climate.max")

	out, code := run(t, "--cache-dir", dir, "ls")
	require.Equal(t, 0, code, out)
	assert.Contains(t, out, "FINGERPRINT")
	assert.Contains(t, out, "climate.mean")
	assert.Contains(t, out, "climate.max")
	assert.Contains(t, out, fps[0].Short())

	out, code = run(t, "--cache-dir", dir, "ls", "--name", "climate.max", "--json")
	require.Equal(t, 0, code, out)
	var entries []store.Entry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, fps[1], entries[0].Fingerprint)
}

func TestLs_Empty(t *testing.T) {
	out, code := run(t, "--cache-dir", t.TempDir(), "ls")
	require.Equal(t, 0, code, out)
	assert.Contains(t, out, "no entries")
}

func TestInfo(t *testing.T) {
	dir, fps := seed(t, "climate.mean")

	out, code := run(t, "--cache-dir", dir, "info", fps[0].Short())
	require.Equal(t, 0, code, out)
	assert.Contains(t, out, fps[0].String())
	assert.Contains(t, out, "json/v1")

	out, code = run(t, "--cache-dir", dir, "info", "--json", fps[0].String())
	require.Equal(t, 0, code, out)
	var e store.Entry
	require.NoError(t, json.Unmarshal([]byte(out), &e))
	assert.Equal(t, "climate.mean", e.Name)

	out, code = run(t, "--cache-dir", dir, "info", "ffffffff")
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "not found")

	_, code = run(t, "--cache-dir", dir, "info")
	assert.Equal(t, 1, code)
}

func TestRm(t *testing.T) {
	dir, fps := seed(t, "climate.mean", "climate.max")

	out, code := run(t, "--cache-dir", dir, "rm", fps[0].Short())
	require.Equal(t, 0, code, out)
	assert.Contains(t, out, "removed "+fps[0].Short())

	out, code = run(t, "--cache-dir", dir, "ls")
	require.Equal(t, 0, code, out)
	assert.NotContains(t, out, "climate.mean")
	assert.Contains(t, out, "climate.max")
}

func TestPrune(t *testing.T) {
	dir, _ := seed(t, "climate.mean", "climate.max", "climate.max2")

	out, code := run(t, "--cache-dir", dir, "prune", "--name", "climate.max", "--dry-run")
	require.Equal(t, 0, code, out)
	assert.Contains(t, out, "would remove 1 entries")

	out, code = run(t, "--cache-dir", dir, "prune")
	require.Equal(t, 0, code, out)
	assert.Contains(t, out, "removed 3 entries")

	out, _ = run(t, "--cache-dir", dir, "ls")
	assert.Contains(t, out, "no entries")
}

func TestHealth(t *testing.T) {
	dir, _ := seed(t, "climate.mean")

	out, code := run(t, "--cache-dir", dir, "health", "--probe", "--json")
	require.Equal(t, 0, code, out)
	var report health.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "healthy", report.Status)
	assert.Contains(t, report.Checks, "store")
	assert.Contains(t, report.Checks, "usage")

	out, code = run(t, "--cache-dir", dir, "health", "--quota", "1B")
	assert.Equal(t, 3, code, out)
	assert.Contains(t, out, "unhealthy")

	_, code = run(t, "--cache-dir", dir, "health", "--quota", "plenty")
	assert.Equal(t, 1, code)
}

func TestConfigFile(t *testing.T) {
	dir, _ := seed(t, "climate.mean")
	path := filepath.Join(t.TempDir(), "xpersist.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cache_dir: "+dir+"\n"), 0o600))

	out, code := run(t, "--config", path, "ls")
	require.Equal(t, 0, code, out)
	assert.Contains(t, out, "climate.mean")

	out, code = run(t, "--config", path, "--backend", "tape", "ls")
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "unknown backend")
}
