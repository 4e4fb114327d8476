package codec

import "fmt"

// LimitCodec wraps another codec to cap the payload size accepted at Decode
// time. Encode is forwarded unchanged. MaxDecode <= 0 disables the cap.
//
// Snapshots restored from shared or untrusted storage should go through this
// so an oversized blob fails fast instead of inflating into the registry.
type LimitCodec[V any] struct {
	// Inner is the wrapped codec. Must be set.
	Inner interface {
		Encode(V) ([]byte, error)
		Decode([]byte) (V, error)
	}
	// MaxDecode is the maximum permitted payload length in bytes.
	MaxDecode int
}

func (c LimitCodec[V]) Encode(v V) ([]byte, error) { return c.Inner.Encode(v) }
func (c LimitCodec[V]) Decode(b []byte) (V, error) {
	if c.MaxDecode > 0 && len(b) > c.MaxDecode {
		var zero V
		return zero, fmt.Errorf("payload too large: %d > %d", len(b), c.MaxDecode)
	}
	return c.Inner.Decode(b)
}
