package serial

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/jonwraymond/xpersist/store"
)

// Compression selects how chunk files are encoded.
type Compression string

// Supported chunk encodings.
const (
	CompressionZstd Compression = "zstd"
	CompressionNone Compression = "none"
)

const manifestFile = "manifest.json"

// chunk describes one stored chunk file. Offset and Count are in elements
// for arrays and in bytes for raw data.
type chunk struct {
	File       string `json:"file"`
	Offset     int    `json:"offset"`
	Count      int    `json:"count"`
	RawSize    int64  `json:"raw_size"`
	StoredSize int64  `json:"stored_size"`
	Checksum   string `json:"xxh64"`
}

func newEncoder(c Compression) (*zstd.Encoder, error) {
	switch c {
	case CompressionNone:
		return nil, nil
	case CompressionZstd, "":
		return zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault), zstd.WithEncoderConcurrency(1))
	default:
		return nil, fmt.Errorf("unknown compression %q", c)
	}
}

func newDecoder(c Compression) (*zstd.Decoder, error) {
	switch c {
	case CompressionNone:
		return nil, nil
	case CompressionZstd, "":
		return zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	default:
		return nil, fmt.Errorf("%w: unknown compression %q", ErrCorrupt, c)
	}
}

func checksum(raw []byte) string {
	return strconv.FormatUint(xxhash.Sum64(raw), 16)
}

// writeChunk stores raw under name. scratch is reused for the compressed
// payload and returned for the next call.
func writeChunk(w store.WriteHandle, name string, raw []byte, enc *zstd.Encoder, scratch []byte) (chunk, []byte, error) {
	payload := raw
	if enc != nil {
		scratch = enc.EncodeAll(raw, scratch[:0])
		payload = scratch
	}
	f, err := w.Create(name)
	if err != nil {
		return chunk{}, scratch, err
	}
	if _, err := f.Write(payload); err != nil {
		_ = f.Close()
		return chunk{}, scratch, err
	}
	if err := f.Close(); err != nil {
		return chunk{}, scratch, err
	}
	return chunk{
		File:       name,
		RawSize:    int64(len(raw)),
		StoredSize: int64(len(payload)),
		Checksum:   checksum(raw),
	}, scratch, nil
}

// readChunk loads and verifies one chunk into dst.
func readChunk(r store.ReadHandle, c chunk, dec *zstd.Decoder, dst []byte) ([]byte, error) {
	rc, err := r.Open(c.File)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	payload, err := io.ReadAll(io.LimitReader(rc, c.StoredSize+1))
	if err != nil {
		return nil, err
	}
	if int64(len(payload)) != c.StoredSize {
		return nil, fmt.Errorf("%w: %s: stored size %d, want %d", ErrCorrupt, c.File, len(payload), c.StoredSize)
	}

	raw := payload
	if dec != nil {
		raw, err = dec.DecodeAll(payload, dst[:0])
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrCorrupt, c.File, err)
		}
	}
	if int64(len(raw)) != c.RawSize {
		return nil, fmt.Errorf("%w: %s: raw size %d, want %d", ErrCorrupt, c.File, len(raw), c.RawSize)
	}
	if sum := checksum(raw); sum != c.Checksum {
		return nil, fmt.Errorf("%w: %s: checksum %s, want %s", ErrCorrupt, c.File, sum, c.Checksum)
	}
	return raw, nil
}

func writeManifest(w store.WriteHandle, m any) error {
	f, err := w.Create(manifestFile)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func readManifest(r store.ReadHandle, m any) error {
	rc, err := r.Open(manifestFile)
	if err != nil {
		return err
	}
	defer rc.Close()
	if err := json.NewDecoder(rc).Decode(m); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrCorrupt, manifestFile, err)
	}
	return nil
}
