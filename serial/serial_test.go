package serial_test

import (
	"bytes"
	"context"
	"errors"
	"math"
	"path"
	"testing"

	xerrors "github.com/jmgilman/go/errors"
	"github.com/jmgilman/go/fs/billy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonwraymond/xpersist/array"
	"github.com/jonwraymond/xpersist/fingerprint"
	"github.com/jonwraymond/xpersist/serial"
	"github.com/jonwraymond/xpersist/store"
)

func testFingerprint(t *testing.T, name string) fingerprint.Fingerprint {
	t.Helper()
	fp, err := fingerprint.NewBuilder().Build(name, nil, nil, "")
	require.NoError(t, err)
	return fp
}

func dump(t *testing.T, b store.Backend, s serial.Serializer, fp fingerprint.Fingerprint, v any) store.Entry {
	t.Helper()
	entry, err := store.WithWriter(context.Background(), b, fp, func(w store.WriteHandle) (store.Entry, error) {
		n, err := s.Dump(context.Background(), v, w)
		return store.Entry{Serializer: s.Name(), Size: n}, err
	})
	require.NoError(t, err)
	return entry
}

func load(b store.Backend, s serial.Serializer, fp fingerprint.Fingerprint, dst any) error {
	return store.WithReader(context.Background(), b, fp, func(r store.ReadHandle) error {
		return s.Load(context.Background(), r, dst)
	})
}

func sampleDataset(t *testing.T, n int) *array.Dataset {
	t.Helper()
	x := make([]float64, n)
	grid := make([]float64, n*3)
	for i := range x {
		x[i] = float64(i) * 0.5
	}
	for i := range grid {
		grid[i] = math.Sin(float64(i))
	}
	grid[0] = math.NaN()
	grid[1] = math.Inf(-1)

	ds := array.NewDataset()
	ds.Attrs["title"] = "sample"

	xv, err := array.New1D("x", x)
	require.NoError(t, err)
	require.NoError(t, ds.SetCoord("x", xv))

	gv, err := array.NewVariable([]string{"x", "band"}, []int{n, 3}, grid)
	require.NoError(t, err)
	gv.Attrs = map[string]string{"units": "K"}
	require.NoError(t, ds.SetVar("grid", gv))

	mask := make([]uint8, n)
	mask[n-1] = 1
	mv, err := array.New1D("x", mask)
	require.NoError(t, err)
	require.NoError(t, ds.SetVar("mask", mv))

	counts, err := array.New1D("x", make([]int32, n))
	require.NoError(t, err)
	require.NoError(t, ds.SetVar("counts", counts))
	return ds
}

func TestDataset_RoundTrip(t *testing.T) {
	for _, compression := range []serial.Compression{serial.CompressionZstd, serial.CompressionNone} {
		t.Run(string(compression), func(t *testing.T) {
			b := store.NewMemoryStore()
			s := serial.NewDataset(serial.DatasetConfig{ChunkSize: 64, Parallelism: 2, Compression: compression})
			fp := testFingerprint(t, "roundtrip")
			ds := sampleDataset(t, 100)

			entry := dump(t, b, s, fp, ds)
			assert.Equal(t, ds.NBytes(), entry.Size)

			var got *array.Dataset
			require.NoError(t, load(b, s, fp, &got))
			assert.True(t, ds.Equal(got), "loaded dataset should be bit-identical")

			var anyGot any
			require.NoError(t, load(b, s, fp, &anyGot))
			assert.True(t, ds.Equal(anyGot.(*array.Dataset)))

			var byValue array.Dataset
			require.NoError(t, load(b, s, fp, &byValue))
			assert.True(t, ds.Equal(&byValue))
		})
	}
}

func TestDataset_ChunksBoundedBySize(t *testing.T) {
	b := store.NewMemoryStore()
	s := serial.NewDataset(serial.DatasetConfig{ChunkSize: 100})
	v, err := array.New1D("t", make([]float64, 100))
	require.NoError(t, err)

	entry := dump(t, b, s, testFingerprint(t, "chunks"), v)
	// 100 bytes holds 12 float64s, so 100 elements need 9 chunks plus the manifest.
	assert.Len(t, entry.Files, 10)
	assert.Equal(t, "manifest.json", entry.Files[len(entry.Files)-1], "manifest is written last")
}

func TestDataset_Variable(t *testing.T) {
	b := store.NewMemoryStore()
	s := serial.NewDataset(serial.DatasetConfig{})
	fp := testFingerprint(t, "variable")
	v, err := array.NewVariable([]string{"y", "x"}, []int{2, 2}, []int64{1, -2, 3, math.MaxInt64})
	require.NoError(t, err)
	dump(t, b, s, fp, v)

	var got *array.Variable
	require.NoError(t, load(b, s, fp, &got))
	assert.True(t, v.Equal(got))

	var wrong *array.Dataset
	err = load(b, s, fp, &wrong)
	assert.ErrorIs(t, err, serial.ErrUnsupported)
}

func TestDataset_DetectsCorruption(t *testing.T) {
	tests := []struct {
		name        string
		compression serial.Compression
		mutate      func([]byte) []byte
	}{
		{name: "zstd garbage", compression: serial.CompressionZstd, mutate: func([]byte) []byte { return []byte("not zstd") }},
		{name: "bit flip", compression: serial.CompressionNone, mutate: func(b []byte) []byte {
			out := bytes.Clone(b)
			out[len(out)/2] ^= 0xff
			return out
		}},
		{name: "truncated", compression: serial.CompressionNone, mutate: func(b []byte) []byte { return b[:len(b)-1] }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fsys := billy.NewMemory()
			b, err := store.NewFS(fsys, store.FSConfig{})
			require.NoError(t, err)
			s := serial.NewDataset(serial.DatasetConfig{Compression: tt.compression})
			fp := testFingerprint(t, "corrupt")
			entry := dump(t, b, s, fp, sampleDataset(t, 10))

			hex := fp.Hex()
			chunkPath := path.Join("objects", hex[:2], hex, entry.Generation, "v000-c000000")
			data, err := fsys.ReadFile(chunkPath)
			require.NoError(t, err)
			require.NoError(t, fsys.WriteFile(chunkPath, tt.mutate(data), 0o644))

			var got *array.Dataset
			err = load(b, s, fp, &got)
			require.Error(t, err)
			assert.ErrorIs(t, err, serial.ErrCorrupt)
			assert.ErrorIs(t, err, serial.ErrSerialization)
			assert.Equal(t, xerrors.CodeSchemaFailed, xerrors.GetCode(err))

			var se *serial.SerializationError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, serial.DatasetName, se.Serializer)
			assert.Equal(t, "load", se.Op)
		})
	}
}

func TestDataset_MissingChunkIsNotFound(t *testing.T) {
	fsys := billy.NewMemory()
	b, err := store.NewFS(fsys, store.FSConfig{})
	require.NoError(t, err)
	s := serial.NewDataset(serial.DatasetConfig{})
	fp := testFingerprint(t, "missing-chunk")
	entry := dump(t, b, s, fp, sampleDataset(t, 10))

	hex := fp.Hex()
	require.NoError(t, fsys.Remove(path.Join("objects", hex[:2], hex, entry.Generation, "v001-c000000")))

	var got *array.Dataset
	assert.ErrorIs(t, load(b, s, fp, &got), store.ErrNotFound)
}

func TestDataset_DumpHonorsContext(t *testing.T) {
	b := store.NewMemoryStore()
	s := serial.NewDataset(serial.DatasetConfig{ChunkSize: 8})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.WithWriter(ctx, b, testFingerprint(t, "cancel"), func(w store.WriteHandle) (store.Entry, error) {
		_, err := s.Dump(ctx, sampleDataset(t, 10), w)
		return store.Entry{}, err
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBytes_RoundTrip(t *testing.T) {
	b := store.NewMemoryStore()
	s := serial.NewBytes(serial.BytesConfig{ChunkSize: 7})

	payload := bytes.Repeat([]byte("xpersist"), 10)
	fp := testFingerprint(t, "bytes")
	entry := dump(t, b, s, fp, payload)
	assert.Equal(t, int64(len(payload)), entry.Size)
	assert.Len(t, entry.Files, 13, "80 bytes in 7-byte chunks plus manifest")

	var got []byte
	require.NoError(t, load(b, s, fp, &got))
	assert.Equal(t, payload, got)

	empty := testFingerprint(t, "empty")
	dump(t, b, s, empty, []byte{})
	require.NoError(t, load(b, s, empty, &got))
	assert.Empty(t, got)
}

type summary struct {
	Name  string             `json:"name"`
	Total float64            `json:"total"`
	Parts map[string]float64 `json:"parts"`
}

func TestJSON_RoundTrip(t *testing.T) {
	b := store.NewMemoryStore()
	s := serial.NewJSON()
	fp := testFingerprint(t, "json")
	want := summary{Name: "sum_grid", Total: 42.5, Parts: map[string]float64{"a": 40, "b": 2.5}}

	entry := dump(t, b, s, fp, want)
	assert.Positive(t, entry.Size)

	var got summary
	require.NoError(t, load(b, s, fp, &got))
	assert.Equal(t, want, got)

	err := load(b, s, fp, got)
	assert.ErrorIs(t, err, serial.ErrUnsupported, "non-pointer destination")
}

func TestRegistry_Select(t *testing.T) {
	r := serial.DefaultRegistry()
	assert.Equal(t, []string{serial.DatasetName, serial.BytesName, serial.JSONName}, r.Names())

	tests := []struct {
		name  string
		value any
		want  string
	}{
		{name: "dataset", value: array.NewDataset(), want: serial.DatasetName},
		{name: "bytes", value: []byte("x"), want: serial.BytesName},
		{name: "map", value: map[string]int{"a": 1}, want: serial.JSONName},
		{name: "float", value: 3.5, want: serial.JSONName},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := r.Select(tt.value, "")
			require.NoError(t, err)
			assert.Equal(t, tt.want, s.Name())
		})
	}

	s, err := r.Select([]byte("x"), serial.JSONName)
	require.NoError(t, err)
	assert.Equal(t, serial.JSONName, s.Name(), "explicit name wins")

	_, err = r.Select(3.5, serial.BytesName)
	assert.ErrorIs(t, err, serial.ErrUnsupported)

	_, err = r.Select(3.5, "parquet/v1")
	assert.ErrorIs(t, err, serial.ErrUnknownSerializer)

	_, err = r.Select(func() {}, "")
	var se *serial.SerializationError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "func()", se.Type)
	assert.ErrorIs(t, err, serial.ErrSerialization)

	assert.ErrorIs(t, r.Register(serial.NewJSON()), serial.ErrDuplicateSerializer)
}

func TestSerializationError_StorageErrorsPassThrough(t *testing.T) {
	b := store.NewMemoryStore()
	s := serial.NewBytes(serial.BytesConfig{})

	err := load(b, s, testFingerprint(t, "absent"), new([]byte))
	assert.ErrorIs(t, err, store.ErrNotFound)

	var se *serial.SerializationError
	assert.False(t, errors.As(err, &se), "store errors are not serialization errors")
}
