package serial

import (
	"context"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/sync/errgroup"

	"github.com/jonwraymond/xpersist/array"
	"github.com/jonwraymond/xpersist/store"
)

// DatasetName is the name of the labeled array serializer.
const DatasetName = "dataset/v1"

// DefaultChunkSize is the default raw size of one chunk.
const DefaultChunkSize int64 = 4 << 20

const (
	kindDataset  = "dataset"
	kindVariable = "variable"
)

// DatasetConfig configures the dataset serializer.
type DatasetConfig struct {
	// ChunkSize is the raw bytes per chunk, rounded down to whole elements.
	// Peak memory during Dump and Load is about ChunkSize x Parallelism.
	// Default: 4 MiB
	ChunkSize int64

	// Parallelism bounds how many variables are processed at once.
	// Default: 4
	Parallelism int

	// Compression selects the chunk encoding.
	// Default: CompressionZstd
	Compression Compression
}

// Dataset serializes *array.Dataset and *array.Variable results.
//
// Layout:
//
//	manifest.json        dims, dtypes, attrs and the chunk table
//	v000-c000000 ...     one file per chunk of each variable
//
// The manifest is written last and lists every chunk with its raw size and
// xxhash64 checksum; Load verifies both.
type Dataset struct {
	config DatasetConfig
}

// NewDataset creates a dataset serializer.
func NewDataset(config DatasetConfig) *Dataset {
	if config.ChunkSize <= 0 {
		config.ChunkSize = DefaultChunkSize
	}
	if config.Parallelism <= 0 {
		config.Parallelism = 4
	}
	if config.Compression == "" {
		config.Compression = CompressionZstd
	}
	return &Dataset{config: config}
}

// Config returns the effective configuration.
func (s *Dataset) Config() DatasetConfig { return s.config }

// Name returns DatasetName.
func (s *Dataset) Name() string { return DatasetName }

// Supports reports whether v is a non-nil dataset or variable.
func (s *Dataset) Supports(v any) bool {
	switch x := v.(type) {
	case *array.Dataset:
		return x != nil
	case *array.Variable:
		return x != nil
	}
	return false
}

type datasetManifest struct {
	Format      string             `json:"format"`
	Kind        string             `json:"kind"`
	Compression Compression        `json:"compression"`
	ChunkSize   int64              `json:"chunk_size"`
	Attrs       map[string]string  `json:"attrs,omitempty"`
	Variables   []variableManifest `json:"variables"`
}

type variableManifest struct {
	Name   string            `json:"name"`
	Coord  bool              `json:"coord,omitempty"`
	Dims   []string          `json:"dims"`
	Shape  []int             `json:"shape"`
	DType  array.DType       `json:"dtype"`
	Attrs  map[string]string `json:"attrs,omitempty"`
	Chunks []chunk           `json:"chunks"`
}

type namedVariable struct {
	name  string
	coord bool
	v     *array.Variable
}

// variableKey names the sole variable of a single-variable result.
const variableKey = "data"

func flatten(v any) (string, *array.Dataset, []namedVariable, error) {
	switch x := v.(type) {
	case *array.Variable:
		return kindVariable, nil, []namedVariable{{name: variableKey, v: x}}, nil
	case *array.Dataset:
		if err := x.Validate(); err != nil {
			return "", nil, nil, err
		}
		var vars []namedVariable
		for _, name := range x.CoordNames() {
			vars = append(vars, namedVariable{name: name, coord: true, v: x.Coords[name]})
		}
		for _, name := range x.VarNames() {
			vars = append(vars, namedVariable{name: name, v: x.Vars[name]})
		}
		return kindDataset, x, vars, nil
	}
	return "", nil, nil, ErrUnsupported
}

// Dump writes each variable as a sequence of compressed chunks, then the
// manifest. It returns the raw size of all variables.
func (s *Dataset) Dump(ctx context.Context, v any, w store.WriteHandle) (int64, error) {
	if !s.Supports(v) {
		return 0, serErr(DatasetName, "dump", v, ErrUnsupported)
	}
	kind, ds, vars, err := flatten(v)
	if err != nil {
		return 0, serErr(DatasetName, "dump", v, err)
	}

	enc, err := newEncoder(s.config.Compression)
	if err != nil {
		return 0, serErr(DatasetName, "dump", v, err)
	}
	if enc != nil {
		defer enc.Close()
	}

	manifests := make([]variableManifest, len(vars))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Parallelism)
	for i, nv := range vars {
		g.Go(func() error {
			m, err := s.dumpVariable(gctx, w, i, nv, enc)
			manifests[i] = m
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return 0, serErr(DatasetName, "dump", v, err)
	}

	m := datasetManifest{
		Format:      DatasetName,
		Kind:        kind,
		Compression: s.config.Compression,
		ChunkSize:   s.config.ChunkSize,
		Variables:   manifests,
	}
	var size int64
	for _, nv := range vars {
		size += nv.v.NBytes()
	}
	if ds != nil {
		m.Attrs = ds.Attrs
	}
	if err := writeManifest(w, m); err != nil {
		return 0, serErr(DatasetName, "dump", v, err)
	}
	return size, nil
}

func (s *Dataset) elemsPerChunk(d array.DType) int {
	return max(1, int(s.config.ChunkSize/int64(d.Size())))
}

func (s *Dataset) dumpVariable(ctx context.Context, w store.WriteHandle, idx int, nv namedVariable, enc *zstd.Encoder) (variableManifest, error) {
	m := variableManifest{
		Name:   nv.name,
		Coord:  nv.coord,
		Dims:   nv.v.Dims(),
		Shape:  nv.v.Shape(),
		DType:  nv.v.DType(),
		Attrs:  nv.v.Attrs,
		Chunks: []chunk{},
	}
	per := s.elemsPerChunk(nv.v.DType())
	var raw, scratch []byte
	for off, n := 0, 0; off < nv.v.Len(); off, n = off+per, n+1 {
		if err := ctx.Err(); err != nil {
			return m, err
		}
		end := min(off+per, nv.v.Len())
		var err error
		raw, err = nv.v.AppendBytes(raw[:0], off, end)
		if err != nil {
			return m, err
		}
		var c chunk
		c, scratch, err = writeChunk(w, fmt.Sprintf("v%03d-c%06d", idx, n), raw, enc, scratch)
		if err != nil {
			return m, fmt.Errorf("variable %q: %w", nv.name, err)
		}
		c.Offset, c.Count = off, end-off
		m.Chunks = append(m.Chunks, c)
	}
	return m, nil
}

// Load reads the manifest, then every variable's chunks in parallel,
// verifying sizes and checksums. dst may be **array.Dataset,
// *array.Dataset, **array.Variable or *any.
func (s *Dataset) Load(ctx context.Context, r store.ReadHandle, dst any) error {
	var m datasetManifest
	if err := readManifest(r, &m); err != nil {
		return serErr(DatasetName, "load", dst, err)
	}
	if m.Format != DatasetName {
		return serErr(DatasetName, "load", dst, fmt.Errorf("%w: format %q", ErrCorrupt, m.Format))
	}
	if err := checkDestination(m.Kind, dst); err != nil {
		return serErr(DatasetName, "load", dst, err)
	}

	dec, err := newDecoder(m.Compression)
	if err != nil {
		return serErr(DatasetName, "load", dst, err)
	}
	if dec != nil {
		defer dec.Close()
	}

	vars := make([]*array.Variable, len(m.Variables))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Parallelism)
	for i, vm := range m.Variables {
		g.Go(func() error {
			v, err := loadVariable(gctx, r, vm, dec)
			if err != nil {
				return fmt.Errorf("variable %q: %w", vm.Name, err)
			}
			vars[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return serErr(DatasetName, "load", dst, err)
	}

	if err := assign(m, vars, dst); err != nil {
		return serErr(DatasetName, "load", dst, err)
	}
	return nil
}

func loadVariable(ctx context.Context, r store.ReadHandle, vm variableManifest, dec *zstd.Decoder) (*array.Variable, error) {
	if !vm.DType.Valid() {
		return nil, fmt.Errorf("%w: dtype %q", ErrCorrupt, vm.DType)
	}
	// The chunk table must tile the variable exactly before anything is
	// allocated from the manifest's shape.
	want := 1
	for _, n := range vm.Shape {
		if n < 0 {
			return nil, fmt.Errorf("%w: shape %v", ErrCorrupt, vm.Shape)
		}
		want *= n
	}
	next := 0
	for _, c := range vm.Chunks {
		if c.Offset != next || c.Count <= 0 || c.RawSize != int64(c.Count*vm.DType.Size()) {
			return nil, fmt.Errorf("%w: chunk %s does not continue at element %d", ErrCorrupt, c.File, next)
		}
		next += c.Count
	}
	if next != want {
		return nil, fmt.Errorf("%w: chunks cover %d of %d elements", ErrCorrupt, next, want)
	}

	v, err := array.Zeros(vm.Dims, vm.Shape, vm.DType)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	var buf []byte
	for _, c := range vm.Chunks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		raw, err := readChunk(r, c, dec, buf)
		if err != nil {
			return nil, err
		}
		if err := v.PutBytes(c.Offset, raw); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
		buf = raw
	}
	v.Attrs = vm.Attrs
	return v, nil
}

func checkDestination(kind string, dst any) error {
	switch dst.(type) {
	case *any:
		return nil
	case **array.Dataset, *array.Dataset:
		if kind == kindDataset {
			return nil
		}
	case **array.Variable:
		if kind == kindVariable {
			return nil
		}
	default:
		return fmt.Errorf("%w: destination %T", ErrUnsupported, dst)
	}
	return fmt.Errorf("%w: stored %s cannot load into %T", ErrUnsupported, kind, dst)
}

func assign(m datasetManifest, vars []*array.Variable, dst any) error {
	var result any
	switch m.Kind {
	case kindVariable:
		if len(vars) != 1 {
			return fmt.Errorf("%w: variable result with %d variables", ErrCorrupt, len(vars))
		}
		result = vars[0]
	case kindDataset:
		ds := array.NewDataset()
		for i, vm := range m.Variables {
			set := ds.SetVar
			if vm.Coord {
				set = ds.SetCoord
			}
			if err := set(vm.Name, vars[i]); err != nil {
				return fmt.Errorf("%w: %w", ErrCorrupt, err)
			}
		}
		if m.Attrs != nil {
			ds.Attrs = m.Attrs
		}
		result = ds
	default:
		return fmt.Errorf("%w: kind %q", ErrCorrupt, m.Kind)
	}

	switch d := dst.(type) {
	case *any:
		*d = result
	case **array.Dataset:
		*d = result.(*array.Dataset)
	case *array.Dataset:
		*d = *result.(*array.Dataset)
	case **array.Variable:
		*d = result.(*array.Variable)
	}
	return nil
}

// VariableNames lists the variables recorded in a dataset manifest,
// coordinates first. It reads only the manifest.
func VariableNames(r store.ReadHandle) ([]string, error) {
	var m datasetManifest
	if err := readManifest(r, &m); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(m.Variables))
	for _, vm := range m.Variables {
		names = append(names, vm.Name)
	}
	return names, nil
}

var _ Serializer = (*Dataset)(nil)
