package array

import (
	"bytes"
	_ "crypto/sha256"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/opencontainers/go-digest"
)

// Sentinel errors for array construction.
var (
	ErrUnsupportedDType = errors.New("array: unsupported dtype")
	ErrShapeMismatch    = errors.New("array: shape does not match data length")
	ErrDimMismatch      = errors.New("array: dimension names do not match shape")
	ErrDimConflict      = errors.New("array: conflicting dimension sizes")
	ErrRange            = errors.New("array: element range out of bounds")
)

// digestBlock is the number of elements hashed per step by ContentDigest.
const digestBlock = 8192

// Variable is a labeled n-dimensional array stored in row-major order.
//
// Variables are immutable after construction except for Attrs.
type Variable struct {
	dims  []string
	shape []int
	dtype DType
	data  any

	// Attrs holds free-form metadata (units, long names).
	Attrs map[string]string
}

// NewVariable creates a Variable over data, which must be one of
// []float64, []float32, []int64, []int32 or []uint8. The product of shape
// must equal len(data) and len(dims) must equal len(shape).
func NewVariable(dims []string, shape []int, data any) (*Variable, error) {
	dtype, n, ok := dtypeOf(data)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedDType, data)
	}
	if len(dims) != len(shape) {
		return nil, fmt.Errorf("%w: %d dims, %d axes", ErrDimMismatch, len(dims), len(shape))
	}
	if size := product(shape); size != n {
		return nil, fmt.Errorf("%w: shape %v holds %d elements, data has %d", ErrShapeMismatch, shape, size, n)
	}
	return &Variable{
		dims:  slices.Clone(dims),
		shape: slices.Clone(shape),
		dtype: dtype,
		data:  data,
		Attrs: map[string]string{},
	}, nil
}

// New1D is a convenience constructor for a one-dimensional variable.
func New1D(dim string, data any) (*Variable, error) {
	_, n, ok := dtypeOf(data)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedDType, data)
	}
	return NewVariable([]string{dim}, []int{n}, data)
}

// Zeros allocates a zero-filled variable.
func Zeros(dims []string, shape []int, dtype DType) (*Variable, error) {
	if !dtype.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDType, dtype)
	}
	if product(shape) < 0 {
		return nil, fmt.Errorf("%w: negative axis in %v", ErrShapeMismatch, shape)
	}
	return NewVariable(dims, shape, makeData(dtype, product(shape)))
}

// Dims returns the dimension names.
func (v *Variable) Dims() []string { return slices.Clone(v.dims) }

// Shape returns the size of each dimension.
func (v *Variable) Shape() []int { return slices.Clone(v.shape) }

// DType returns the element type.
func (v *Variable) DType() DType { return v.dtype }

// DTypeName returns the element type name.
func (v *Variable) DTypeName() string { return string(v.dtype) }

// Len returns the total number of elements.
func (v *Variable) Len() int { return product(v.shape) }

// NBytes returns the encoded size of the data in bytes.
func (v *Variable) NBytes() int64 { return int64(v.Len()) * int64(v.dtype.Size()) }

// Data returns the underlying typed slice. Callers must not modify it.
func (v *Variable) Data() any { return v.data }

// Float64s returns the data when the dtype is float64.
func (v *Variable) Float64s() ([]float64, bool) {
	d, ok := v.data.([]float64)
	return d, ok
}

// AppendBytes appends the little-endian encoding of elements [from, to).
func (v *Variable) AppendBytes(dst []byte, from, to int) ([]byte, error) {
	if from < 0 || to > v.Len() || from > to {
		return dst, fmt.Errorf("%w: [%d, %d) of %d", ErrRange, from, to, v.Len())
	}
	return appendLE(dst, v.data, from, to), nil
}

// PutBytes decodes little-endian raw bytes into the variable at element offset.
func (v *Variable) PutBytes(offset int, raw []byte) error {
	size := v.dtype.Size()
	if len(raw)%size != 0 {
		return fmt.Errorf("%w: %d bytes is not a multiple of %d", ErrRange, len(raw), size)
	}
	if offset < 0 || offset+len(raw)/size > v.Len() {
		return fmt.Errorf("%w: offset %d + %d elements exceeds %d", ErrRange, offset, len(raw)/size, v.Len())
	}
	decodeLE(v.data, offset, raw)
	return nil
}

// ContentDigest returns a SHA-256 digest over dtype, shape and element bytes.
// Dimension names and attributes are not part of the digest.
func (v *Variable) ContentDigest() digest.Digest {
	d := digest.SHA256.Digester()
	h := d.Hash()
	fmt.Fprintf(h, "%s%v|", v.dtype, v.shape)

	buf := make([]byte, 0, digestBlock*v.dtype.Size())
	for from := 0; from < v.Len(); from += digestBlock {
		to := min(from+digestBlock, v.Len())
		buf = appendLE(buf[:0], v.data, from, to)
		h.Write(buf)
	}
	return d.Digest()
}

// Equal reports whether two variables have identical dims, shape, dtype,
// attributes and bit-identical element data.
func (v *Variable) Equal(o *Variable) bool {
	if v == nil || o == nil {
		return v == o
	}
	if v.dtype != o.dtype || !slices.Equal(v.dims, o.dims) || !slices.Equal(v.shape, o.shape) {
		return false
	}
	if !maps.Equal(v.Attrs, o.Attrs) {
		return false
	}
	a := appendLE(nil, v.data, 0, v.Len())
	b := appendLE(nil, o.data, 0, o.Len())
	return bytes.Equal(a, b)
}

func product(shape []int) int {
	n := 1
	for _, s := range shape {
		if s < 0 {
			return -1
		}
		n *= s
	}
	return n
}
