package store_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonwraymond/xpersist/store"
)

func TestFSStore_Layout(t *testing.T) {
	dir := t.TempDir()
	s, err := store.NewLocal(dir, store.FSConfig{Sync: true})
	require.NoError(t, err)

	fp := testFingerprint(t, "layout")
	entry := writeEntry(t, s, fp, map[string]string{"data": "payload"})

	hex := fp.Hex()
	entryDir := filepath.Join(dir, "objects", hex[:2], hex)
	assert.FileExists(t, filepath.Join(entryDir, "entry.json"))
	assert.FileExists(t, filepath.Join(entryDir, entry.Generation, "data"))

	staged, err := os.ReadDir(filepath.Join(dir, "tmp"))
	require.NoError(t, err)
	assert.Empty(t, staged, "commit should leave nothing staged")
	assert.Equal(t, store.KindLocal, s.Kind())
}

func TestFSStore_PrunesSupersededGenerations(t *testing.T) {
	dir := t.TempDir()
	s, err := store.NewLocal(dir, store.FSConfig{GenerationGrace: -time.Hour})
	require.NoError(t, err)

	fp := testFingerprint(t, "prune")
	var gens []string
	for _, v := range []string{"v1", "v2", "v3"} {
		gens = append(gens, writeEntry(t, s, fp, map[string]string{"data": v}).Generation)
	}

	hex := fp.Hex()
	entryDir := filepath.Join(dir, "objects", hex[:2], hex)
	assert.NoDirExists(t, filepath.Join(entryDir, gens[0]))
	assert.DirExists(t, filepath.Join(entryDir, gens[1]), "previous generation is retained")
	assert.DirExists(t, filepath.Join(entryDir, gens[2]))
}

func TestFSStore_Sweep(t *testing.T) {
	dir := t.TempDir()
	s, err := store.NewLocal(dir, store.FSConfig{})
	require.NoError(t, err)
	ctx := context.Background()

	w, err := s.OpenForWrite(ctx, testFingerprint(t, "crashed"))
	require.NoError(t, err)
	f, err := w.Create("data")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	n, err := s.Sweep(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "recent staging must survive")

	n, err = s.Sweep(ctx, -time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	staged, err := os.ReadDir(filepath.Join(dir, "tmp"))
	require.NoError(t, err)
	assert.Empty(t, staged)
}

func TestFSStore_CorruptPointer(t *testing.T) {
	dir := t.TempDir()
	s, err := store.NewLocal(dir, store.FSConfig{})
	require.NoError(t, err)

	fp := testFingerprint(t, "corrupt")
	writeEntry(t, s, fp, map[string]string{"data": "x"})

	hex := fp.Hex()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "objects", hex[:2], hex, "entry.json"), []byte("{not json"), 0o644))

	_, err = s.ReadMetadata(context.Background(), fp)
	assert.ErrorIs(t, err, store.ErrStorageUnavailable)

	entries, err := s.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries, "unreadable entries are skipped by List")
}
