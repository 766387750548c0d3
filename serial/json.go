package serial

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"reflect"

	"github.com/jonwraymond/xpersist/store"
)

// JSONName is the name of the JSON serializer.
const JSONName = "json/v1"

const jsonFile = "value.json"

// JSON serializes any JSON-marshalable value. It accepts everything except
// nil, functions, channels and unsafe pointers, so it should be registered
// last.
type JSON struct{}

// NewJSON creates a JSON serializer.
func NewJSON() *JSON { return &JSON{} }

// Name returns JSONName.
func (s *JSON) Name() string { return JSONName }

// Supports reports whether v has a JSON representation.
func (s *JSON) Supports(v any) bool {
	if v == nil {
		return false
	}
	switch reflect.TypeOf(v).Kind() {
	case reflect.Func, reflect.Chan, reflect.UnsafePointer, reflect.Complex64, reflect.Complex128:
		return false
	}
	return true
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// Dump encodes v to value.json and returns the encoded size.
func (s *JSON) Dump(ctx context.Context, v any, w store.WriteHandle) (int64, error) {
	if !s.Supports(v) {
		return 0, serErr(JSONName, "dump", v, ErrUnsupported)
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	f, err := w.Create(jsonFile)
	if err != nil {
		return 0, serErr(JSONName, "dump", v, err)
	}
	cw := &countingWriter{w: f}
	if err := json.NewEncoder(cw).Encode(v); err != nil {
		_ = f.Close()
		return 0, serErr(JSONName, "dump", v, err)
	}
	if err := f.Close(); err != nil {
		return 0, serErr(JSONName, "dump", v, err)
	}
	return cw.n, nil
}

// Load decodes value.json into dst.
func (s *JSON) Load(ctx context.Context, r store.ReadHandle, dst any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rv := reflect.ValueOf(dst)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return serErr(JSONName, "load", dst, fmt.Errorf("%w: destination %T is not a non-nil pointer", ErrUnsupported, dst))
	}
	rc, err := r.Open(jsonFile)
	if err != nil {
		return serErr(JSONName, "load", dst, err)
	}
	defer rc.Close()
	if err := json.NewDecoder(rc).Decode(dst); err != nil {
		return serErr(JSONName, "load", dst, fmt.Errorf("%w: %s: %w", ErrCorrupt, jsonFile, err))
	}
	return nil
}

var _ Serializer = (*JSON)(nil)
