package array

import (
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
)

// Dataset is a collection of named data variables and coordinate variables
// sharing one set of dimension sizes.
type Dataset struct {
	// Vars holds the data variables.
	Vars map[string]*Variable

	// Coords holds coordinate variables, typically 1-D labels along a dim.
	Coords map[string]*Variable

	// Attrs holds dataset level metadata.
	Attrs map[string]string
}

// NewDataset creates an empty dataset.
func NewDataset() *Dataset {
	return &Dataset{
		Vars:   map[string]*Variable{},
		Coords: map[string]*Variable{},
		Attrs:  map[string]string{},
	}
}

// SetVar adds or replaces a data variable after checking dimension sizes.
func (d *Dataset) SetVar(name string, v *Variable) error {
	if err := d.checkDims(v); err != nil {
		return fmt.Errorf("variable %q: %w", name, err)
	}
	d.Vars[name] = v
	return nil
}

// SetCoord adds or replaces a coordinate variable after checking dimension sizes.
func (d *Dataset) SetCoord(name string, v *Variable) error {
	if err := d.checkDims(v); err != nil {
		return fmt.Errorf("coordinate %q: %w", name, err)
	}
	d.Coords[name] = v
	return nil
}

// Dims returns the size of every dimension used by the dataset.
func (d *Dataset) Dims() map[string]int {
	dims := map[string]int{}
	for _, v := range d.all() {
		for i, name := range v.dims {
			dims[name] = v.shape[i]
		}
	}
	return dims
}

// Validate checks that every variable agrees on the size of shared dims.
func (d *Dataset) Validate() error {
	seen := map[string]int{}
	for _, v := range d.all() {
		for i, name := range v.dims {
			if size, ok := seen[name]; ok && size != v.shape[i] {
				return fmt.Errorf("%w: %q is %d and %d", ErrDimConflict, name, size, v.shape[i])
			}
			seen[name] = v.shape[i]
		}
	}
	return nil
}

// NBytes returns the total encoded size of all variables.
func (d *Dataset) NBytes() int64 {
	var n int64
	for _, v := range d.all() {
		n += v.NBytes()
	}
	return n
}

// VarNames returns the data variable names in sorted order.
func (d *Dataset) VarNames() []string {
	return slices.Sorted(maps.Keys(d.Vars))
}

// CoordNames returns the coordinate names in sorted order.
func (d *Dataset) CoordNames() []string {
	return slices.Sorted(maps.Keys(d.Coords))
}

// Equal reports whether two datasets have identical variables, coordinates
// and attributes.
func (d *Dataset) Equal(o *Dataset) bool {
	if d == nil || o == nil {
		return d == o
	}
	if !maps.Equal(d.Attrs, o.Attrs) {
		return false
	}
	return equalVars(d.Vars, o.Vars) && equalVars(d.Coords, o.Coords)
}

// CanonicalBytes returns a deterministic identity for the dataset built from
// names, dims, attributes and per-variable content digests. It lets a
// Dataset be used as a fingerprinted computation argument.
func (d *Dataset) CanonicalBytes() ([]byte, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	var b strings.Builder
	writeGroup := func(kind string, vars map[string]*Variable) {
		for _, name := range slices.Sorted(maps.Keys(vars)) {
			v := vars[name]
			fmt.Fprintf(&b, "%s:%q:%q:%s;", kind, name, v.dims, v.ContentDigest())
			writeAttrs(&b, v.Attrs)
		}
	}
	writeGroup("coord", d.Coords)
	writeGroup("var", d.Vars)
	writeAttrs(&b, d.Attrs)
	return []byte(b.String()), nil
}

func (d *Dataset) checkDims(v *Variable) error {
	if v == nil {
		return fmt.Errorf("%w: nil variable", ErrShapeMismatch)
	}
	dims := d.Dims()
	for i, name := range v.dims {
		if size, ok := dims[name]; ok && size != v.shape[i] {
			return fmt.Errorf("%w: %q is %d, got %d", ErrDimConflict, name, size, v.shape[i])
		}
	}
	return nil
}

func (d *Dataset) all() []*Variable {
	out := make([]*Variable, 0, len(d.Vars)+len(d.Coords))
	for _, name := range slices.Sorted(maps.Keys(d.Coords)) {
		out = append(out, d.Coords[name])
	}
	for _, name := range slices.Sorted(maps.Keys(d.Vars)) {
		out = append(out, d.Vars[name])
	}
	return out
}

func equalVars(a, b map[string]*Variable) bool {
	if len(a) != len(b) {
		return false
	}
	for name, v := range a {
		if !v.Equal(b[name]) {
			return false
		}
	}
	return true
}

func writeAttrs(b *strings.Builder, attrs map[string]string) {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	b.WriteString("{")
	for _, k := range keys {
		fmt.Fprintf(b, "%q=%q,", k, attrs[k])
	}
	b.WriteString("}")
}
