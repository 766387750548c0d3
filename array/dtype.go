package array

import (
	"encoding/binary"
	"fmt"
	"math"
)

// DType identifies the element type of a Variable.
type DType string

// Supported element types.
const (
	Float64 DType = "float64"
	Float32 DType = "float32"
	Int64   DType = "int64"
	Int32   DType = "int32"
	Uint8   DType = "uint8"
)

// Size returns the encoded size of one element in bytes.
func (d DType) Size() int {
	switch d {
	case Float64, Int64:
		return 8
	case Float32, Int32:
		return 4
	case Uint8:
		return 1
	default:
		return 0
	}
}

// Valid reports whether d is a supported element type.
func (d DType) Valid() bool {
	return d.Size() > 0
}

// ParseDType parses a dtype name.
func ParseDType(s string) (DType, error) {
	d := DType(s)
	if !d.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedDType, s)
	}
	return d, nil
}

// dtypeOf returns the dtype and length of a supported data slice.
func dtypeOf(data any) (DType, int, bool) {
	switch v := data.(type) {
	case []float64:
		return Float64, len(v), true
	case []float32:
		return Float32, len(v), true
	case []int64:
		return Int64, len(v), true
	case []int32:
		return Int32, len(v), true
	case []uint8:
		return Uint8, len(v), true
	default:
		return "", 0, false
	}
}

// makeData allocates a zeroed slice of n elements.
func makeData(d DType, n int) any {
	switch d {
	case Float64:
		return make([]float64, n)
	case Float32:
		return make([]float32, n)
	case Int64:
		return make([]int64, n)
	case Int32:
		return make([]int32, n)
	case Uint8:
		return make([]uint8, n)
	default:
		return nil
	}
}

// appendLE appends elements [from, to) of data in little-endian order.
func appendLE(dst []byte, data any, from, to int) []byte {
	le := binary.LittleEndian
	switch v := data.(type) {
	case []float64:
		for _, x := range v[from:to] {
			dst = le.AppendUint64(dst, math.Float64bits(x))
		}
	case []float32:
		for _, x := range v[from:to] {
			dst = le.AppendUint32(dst, math.Float32bits(x))
		}
	case []int64:
		for _, x := range v[from:to] {
			dst = le.AppendUint64(dst, uint64(x))
		}
	case []int32:
		for _, x := range v[from:to] {
			dst = le.AppendUint32(dst, uint32(x))
		}
	case []uint8:
		dst = append(dst, v[from:to]...)
	}
	return dst
}

// decodeLE decodes little-endian raw bytes into data starting at offset.
func decodeLE(data any, offset int, raw []byte) {
	le := binary.LittleEndian
	switch v := data.(type) {
	case []float64:
		for i := 0; i+8 <= len(raw); i += 8 {
			v[offset+i/8] = math.Float64frombits(le.Uint64(raw[i:]))
		}
	case []float32:
		for i := 0; i+4 <= len(raw); i += 4 {
			v[offset+i/4] = math.Float32frombits(le.Uint32(raw[i:]))
		}
	case []int64:
		for i := 0; i+8 <= len(raw); i += 8 {
			v[offset+i/8] = int64(le.Uint64(raw[i:]))
		}
	case []int32:
		for i := 0; i+4 <= len(raw); i += 4 {
			v[offset+i/4] = int32(le.Uint32(raw[i:]))
		}
	case []uint8:
		copy(v[offset:], raw)
	}
}
