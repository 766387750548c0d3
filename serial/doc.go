// Package serial converts computation results to and from the artifacts of
// a store entry.
//
// A Serializer writes a result through a store.WriteHandle and reads it back
// through a store.ReadHandle. The Registry picks a serializer per result,
// either by explicit name or by asking each registered serializer in order
// whether it supports the value. The chosen name is recorded in the entry
// so loads always use the serializer that wrote the data.
//
// Built-in serializers:
//
//   - dataset/v1: *array.Dataset and *array.Variable, chunked, zstd
//     compressed and xxhash checksummed, variables processed in parallel.
//   - bytes/v1: []byte, chunked.
//   - json/v1: any JSON-marshalable value; registered last as the fallback.
package serial
