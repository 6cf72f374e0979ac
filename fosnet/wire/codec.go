package wire

import (
	"encoding/json"

	cbor "github.com/fxamacker/cbor/v2"
)

// Codec serializes typed values into frame payloads. Implementations must
// be deterministic and safe for cross-peer exchange.
type Codec interface {
	ContentType() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

type cborCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

// CBOR returns the default wire codec: deterministic CBOR (RFC 8949,
// canonical encoding). Both ends of a connection use it for control
// messages, so encoding must not vary by map iteration order.
func CBOR() Codec {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err) // static options, cannot fail
	}
	dm, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(err)
	}
	return cborCodec{enc: em, dec: dm}
}

func (c cborCodec) ContentType() string { return "application/cbor" }
func (c cborCodec) Marshal(v any) ([]byte, error) { return c.enc.Marshal(v) }
func (c cborCodec) Unmarshal(data []byte, v any) error { return c.dec.Unmarshal(data, v) }

type jsonCodec struct{}

// JSON returns a JSON codec. Used by tooling that wants human-readable
// payloads; never the default on the wire.
func JSON() Codec { return jsonCodec{} }

func (jsonCodec) ContentType() string { return "application/json" }
func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
