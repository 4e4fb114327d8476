// Package codec provides stable byte encodings for cache snapshots.
//
// The cache itself stores live Go values; bytes enter the picture only when a
// host hands a DehydratedState to a persistence collaborator. A Codec must
// round-trip: Decode(Encode(v)) yields a value that Encode maps back to the
// same bytes.
package codec

// Codec encodes/decodes values V to []byte for storage.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}
