package serial

import (
	"context"
	"fmt"

	"github.com/jonwraymond/xpersist/store"
)

// BytesName is the name of the raw byte serializer.
const BytesName = "bytes/v1"

// BytesConfig configures the bytes serializer.
type BytesConfig struct {
	// ChunkSize is the number of bytes per chunk file.
	// Default: 4 MiB
	ChunkSize int64

	// Compression selects the chunk encoding.
	// Default: CompressionZstd
	Compression Compression
}

// Bytes serializes []byte results as checksummed chunks.
type Bytes struct {
	config BytesConfig
}

type bytesManifest struct {
	Format      string      `json:"format"`
	Compression Compression `json:"compression"`
	Size        int64       `json:"size"`
	Chunks      []chunk     `json:"chunks"`
}

// NewBytes creates a bytes serializer.
func NewBytes(config BytesConfig) *Bytes {
	if config.ChunkSize <= 0 {
		config.ChunkSize = DefaultChunkSize
	}
	if config.Compression == "" {
		config.Compression = CompressionZstd
	}
	return &Bytes{config: config}
}

// Name returns BytesName.
func (s *Bytes) Name() string { return BytesName }

// Supports reports whether v is a []byte.
func (s *Bytes) Supports(v any) bool {
	_, ok := v.([]byte)
	return ok
}

// Dump writes v in chunks followed by the manifest.
func (s *Bytes) Dump(ctx context.Context, v any, w store.WriteHandle) (int64, error) {
	data, ok := v.([]byte)
	if !ok {
		return 0, serErr(BytesName, "dump", v, ErrUnsupported)
	}
	enc, err := newEncoder(s.config.Compression)
	if err != nil {
		return 0, serErr(BytesName, "dump", v, err)
	}
	if enc != nil {
		defer enc.Close()
	}

	m := bytesManifest{Format: BytesName, Compression: s.config.Compression, Size: int64(len(data)), Chunks: []chunk{}}
	per := int(s.config.ChunkSize)
	var scratch []byte
	for off, n := 0, 0; off < len(data); off, n = off+per, n+1 {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		end := min(off+per, len(data))
		var c chunk
		c, scratch, err = writeChunk(w, fmt.Sprintf("c%06d", n), data[off:end], enc, scratch)
		if err != nil {
			return 0, serErr(BytesName, "dump", v, err)
		}
		c.Offset, c.Count = off, end-off
		m.Chunks = append(m.Chunks, c)
	}
	if err := writeManifest(w, m); err != nil {
		return 0, serErr(BytesName, "dump", v, err)
	}
	return m.Size, nil
}

// Load reassembles the chunks into dst, which must be *[]byte or *any.
func (s *Bytes) Load(ctx context.Context, r store.ReadHandle, dst any) error {
	var m bytesManifest
	if err := readManifest(r, &m); err != nil {
		return serErr(BytesName, "load", dst, err)
	}
	if m.Format != BytesName || m.Size < 0 {
		return serErr(BytesName, "load", dst, fmt.Errorf("%w: format %q size %d", ErrCorrupt, m.Format, m.Size))
	}
	switch dst.(type) {
	case *[]byte, *any:
	default:
		return serErr(BytesName, "load", dst, fmt.Errorf("%w: destination %T", ErrUnsupported, dst))
	}

	var total int64
	for _, c := range m.Chunks {
		if int64(c.Offset) != total || c.RawSize != int64(c.Count) {
			return serErr(BytesName, "load", dst, fmt.Errorf("%w: chunk %s out of sequence", ErrCorrupt, c.File))
		}
		total += c.RawSize
	}
	if total != m.Size {
		return serErr(BytesName, "load", dst, fmt.Errorf("%w: chunks hold %d of %d bytes", ErrCorrupt, total, m.Size))
	}

	dec, err := newDecoder(m.Compression)
	if err != nil {
		return serErr(BytesName, "load", dst, err)
	}
	if dec != nil {
		defer dec.Close()
	}

	out := make([]byte, 0, m.Size)
	var buf []byte
	for _, c := range m.Chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		raw, err := readChunk(r, c, dec, buf)
		if err != nil {
			return serErr(BytesName, "load", dst, err)
		}
		out = append(out, raw...)
		buf = raw
	}

	switch d := dst.(type) {
	case *[]byte:
		*d = out
	case *any:
		*d = out
	}
	return nil
}

var _ Serializer = (*Bytes)(nil)
