package codec

import (
	"sync"

	cbor "github.com/fxamacker/cbor/v2"
)

type cborCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

var (
	cborOnce  sync.Once
	cborValue Codec
	cborErr   error
)

// CBOR returns a deterministic CBOR codec (RFC 8949, canonical encoding).
// The encoder and decoder modes are built once per process.
func CBOR() (Codec, error) {
	cborOnce.Do(func() {
		em, err := cbor.CanonicalEncOptions().EncMode()
		if err != nil {
			cborErr = err
			return
		}
		dm, err := cbor.DecOptions{}.DecMode()
		if err != nil {
			cborErr = err
			return
		}
		cborValue = cborCodec{enc: em, dec: dm}
	})
	return cborValue, cborErr
}

func (c cborCodec) Name() string { return NameCBOR }
func (c cborCodec) ContentType() string { return "application/cbor" }
func (c cborCodec) Marshal(v any) ([]byte, error) { return c.enc.Marshal(v) }
func (c cborCodec) Unmarshal(data []byte, v any) error { return c.dec.Unmarshal(data, v) }
