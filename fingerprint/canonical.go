package fingerprint

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"reflect"
	"sort"
)

// Type tags of the canonical encoding. Values are stable; never renumber.
const (
	tagNil byte = iota
	tagFalse
	tagTrue
	tagInt
	tagUint
	tagFloat
	tagComplex
	tagString
	tagBytes
	tagList
	tagMap
	tagStruct
	tagCustom
)

// maxDepth bounds nesting to reject pathological or cyclic inputs.
const maxDepth = 128

// fdHolder matches live OS handles such as *os.File and network conns.
type fdHolder interface {
	Fd() uintptr
}

type encoder struct {
	w        io.Writer
	registry *Registry
	scratch  [binary.MaxVarintLen64]byte
	visiting map[uintptr]bool
	depth    int
}

func newEncoder(w io.Writer, r *Registry) *encoder {
	return &encoder{w: w, registry: r, visiting: make(map[uintptr]bool)}
}

func canonicalBytes(r *Registry, path string, v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := newEncoder(&buf, r).encode(path, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (e *encoder) writeTag(t byte) {
	e.w.Write([]byte{t})
}

func (e *encoder) writeUvarint(x uint64) {
	n := binary.PutUvarint(e.scratch[:], x)
	e.w.Write(e.scratch[:n])
}

func (e *encoder) writeUint64(x uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], x)
	e.w.Write(b[:])
}

func (e *encoder) writeString(s string) {
	e.writeTag(tagString)
	e.writeUvarint(uint64(len(s)))
	io.WriteString(e.w, s)
}

func (e *encoder) writeBytes(tag byte, b []byte) {
	e.writeTag(tag)
	e.writeUvarint(uint64(len(b)))
	e.w.Write(b)
}

func (e *encoder) encode(path string, v any) error {
	if v == nil {
		e.writeTag(tagNil)
		return nil
	}
	return e.encodeValue(path, reflect.ValueOf(v))
}

func (e *encoder) encodeValue(path string, rv reflect.Value) error {
	if !rv.IsValid() {
		e.writeTag(tagNil)
		return nil
	}

	e.depth++
	defer func() { e.depth-- }()
	if e.depth > maxDepth {
		return unhashable(path, rv, "nesting exceeds maximum depth")
	}

	if rv.CanInterface() {
		iv := rv.Interface()
		if _, ok := iv.(fdHolder); ok {
			return unhashable(path, rv, "live OS handle")
		}
		if isNilPointer(rv) {
			e.writeTag(tagNil)
			return nil
		}
		c, ok := e.registry.lookup(iv)
		if !ok && rv.Kind() == reflect.Struct {
			// Methods such as (*big.Int).MarshalText need an addressable copy.
			ptr := reflect.New(rv.Type())
			ptr.Elem().Set(rv)
			if c, ok = e.registry.lookup(ptr.Interface()); ok {
				iv = ptr.Interface()
			}
		}
		if ok {
			b, err := c.encode(iv)
			if err != nil {
				return &UnhashableInputError{Path: path, Type: rv.Type().String(), Reason: err.Error()}
			}
			e.writeTag(tagCustom)
			e.writeString(c.name)
			e.writeBytes(tagBytes, b)
			return nil
		}
	}

	switch rv.Kind() {
	case reflect.Bool:
		if rv.Bool() {
			e.writeTag(tagTrue)
		} else {
			e.writeTag(tagFalse)
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		e.writeTag(tagInt)
		e.writeUint64(uint64(rv.Int()))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		e.writeTag(tagUint)
		e.writeUint64(rv.Uint())
	case reflect.Float32, reflect.Float64:
		// float32 widens to float64 exactly, so both share one encoding.
		e.writeTag(tagFloat)
		e.writeUint64(math.Float64bits(rv.Float()))
	case reflect.Complex64, reflect.Complex128:
		c := rv.Complex()
		e.writeTag(tagComplex)
		e.writeUint64(math.Float64bits(real(c)))
		e.writeUint64(math.Float64bits(imag(c)))
	case reflect.String:
		e.writeString(rv.String())
	case reflect.Slice:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			e.writeBytes(tagBytes, rv.Bytes())
			return nil
		}
		return e.encodeList(path, rv)
	case reflect.Array:
		return e.encodeList(path, rv)
	case reflect.Map:
		return e.encodeMap(path, rv)
	case reflect.Struct:
		return e.encodeStruct(path, rv)
	case reflect.Pointer:
		return e.encodeRef(path, rv)
	case reflect.Interface:
		if rv.IsNil() {
			e.writeTag(tagNil)
			return nil
		}
		return e.encodeValue(path, rv.Elem())
	default:
		// Func, Chan, UnsafePointer
		return unhashable(path, rv, fmt.Sprintf("%s values have no canonical form", rv.Kind()))
	}
	return nil
}

func (e *encoder) encodeRef(path string, rv reflect.Value) error {
	ptr := rv.Pointer()
	if e.visiting[ptr] {
		return unhashable(path, rv, "cyclic reference")
	}
	e.visiting[ptr] = true
	defer delete(e.visiting, ptr)
	return e.encodeValue(path, rv.Elem())
}

func (e *encoder) encodeList(path string, rv reflect.Value) error {
	e.writeTag(tagList)
	e.writeUvarint(uint64(rv.Len()))
	for i := 0; i < rv.Len(); i++ {
		if err := e.encodeValue(fmt.Sprintf("%s[%d]", path, i), rv.Index(i)); err != nil {
			return err
		}
	}
	return nil
}

func (e *encoder) encodeMap(path string, rv reflect.Value) error {
	if rv.IsNil() {
		e.writeTag(tagNil)
		return nil
	}
	if e.visiting[rv.Pointer()] {
		return unhashable(path, rv, "cyclic reference")
	}
	e.visiting[rv.Pointer()] = true
	defer delete(e.visiting, rv.Pointer())

	type kv struct {
		key []byte
		val reflect.Value
		src reflect.Value
	}
	entries := make([]kv, 0, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		kb, err := canonicalBytes(e.registry, path+"<key>", valueOf(iter.Key()))
		if err != nil {
			return err
		}
		entries = append(entries, kv{key: kb, val: iter.Value(), src: iter.Key()})
	}
	sort.Slice(entries, func(i, j int) bool {
		return bytes.Compare(entries[i].key, entries[j].key) < 0
	})

	e.writeTag(tagMap)
	e.writeUvarint(uint64(len(entries)))
	for _, ent := range entries {
		e.w.Write(ent.key)
		if err := e.encodeValue(fmt.Sprintf("%s[%s]", path, keyLabel(ent.src)), ent.val); err != nil {
			return err
		}
	}
	return nil
}

type field struct {
	name  string
	index int
}

// encodeStruct encodes exported fields sorted by name. An unexported field
// is rejected unless tagged xpersist:"-", since its state would otherwise
// be dropped from the fingerprint.
func (e *encoder) encodeStruct(path string, rv reflect.Value) error {
	t := rv.Type()
	fields := make([]field, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag, tagged := f.Tag.Lookup("xpersist")
		if tagged && tag == "-" {
			continue
		}
		if !f.IsExported() {
			return unhashable(path+"."+f.Name, rv, "unexported field has no canonical form")
		}
		name := f.Name
		if tag != "" {
			name = tag
		}
		fields = append(fields, field{name: name, index: i})
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].name < fields[j].name })

	e.writeTag(tagStruct)
	e.writeString(t.String())
	e.writeUvarint(uint64(len(fields)))
	for _, f := range fields {
		e.writeString(f.name)
		if err := e.encodeValue(path+"."+f.name, rv.Field(f.index)); err != nil {
			return err
		}
	}
	return nil
}

func unhashable(path string, rv reflect.Value, reason string) error {
	return &UnhashableInputError{Path: path, Type: rv.Type().String(), Reason: reason}
}

func isNilPointer(rv reflect.Value) bool {
	return rv.Kind() == reflect.Pointer && rv.IsNil()
}

func valueOf(rv reflect.Value) any {
	if rv.CanInterface() {
		return rv.Interface()
	}
	return nil
}

func keyLabel(rv reflect.Value) string {
	if rv.Kind() == reflect.String {
		return fmt.Sprintf("%q", rv.String())
	}
	return fmt.Sprintf("%v", valueOf(rv))
}
