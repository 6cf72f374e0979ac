package wire

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/pierrec/lz4/v4"
)

// Channels flagged Compress carry a one-byte scheme marker ahead of the
// payload so the receiver knows whether an lz4 frame follows. Channels
// without the flag carry bare payloads and never see these markers.
const (
	schemeRaw byte = 0
	schemeLZ4 byte = 1
)

// CompressMin is the payload size below which packing skips compression.
// Tiny payloads cost more in lz4 framing than they save.
const CompressMin = 64

// ErrPayloadMalformed reports a compressed payload that could not be
// unpacked.
var ErrPayloadMalformed = errors.New("wire: malformed compressed payload")

var lz4Writers = sync.Pool{
	New: func() interface{} { return lz4.NewWriter(nil) },
}

var lz4Readers = sync.Pool{
	New: func() interface{} { return lz4.NewReader(nil) },
}

// PackPayload wraps payload for a compressed channel. Payloads that are
// small or do not shrink go out raw behind the marker, so packing never
// grows a message by more than one byte.
func PackPayload(payload []byte) []byte {
	if len(payload) >= CompressMin {
		if packed, err := lz4Pack(payload); err == nil && len(packed) < 1+len(payload) {
			return packed
		}
	}
	raw := make([]byte, 1+len(payload))
	raw[0] = schemeRaw
	copy(raw[1:], payload)
	return raw
}

func lz4Pack(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(schemeLZ4)
	w := lz4Writers.Get().(*lz4.Writer)
	defer lz4Writers.Put(w)
	w.Reset(&buf)
	if _, err := w.Write(payload); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnpackPayload reverses PackPayload. max bounds the decompressed size the
// same way it bounds frames; zero means DefaultMaxFrame. The input is
// peer-controlled, so every malformed shape maps to an error rather than a
// panic.
func UnpackPayload(data []byte, max uint32) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrPayloadMalformed)
	}
	body := data[1:]
	switch data[0] {
	case schemeRaw:
		return body, nil
	case schemeLZ4:
		limit := int64(DefaultMaxFrame)
		if max != 0 {
			limit = int64(max)
		}
		r := lz4Readers.Get().(*lz4.Reader)
		defer lz4Readers.Put(r)
		r.Reset(bytes.NewReader(body))
		var buf bytes.Buffer
		n, err := io.Copy(&buf, io.LimitReader(r, limit+1))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPayloadMalformed, err)
		}
		if n > limit {
			return nil, fmt.Errorf("%w: decompressed payload exceeds %d bytes", ErrFrameTooLarge, limit)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("%w: unknown scheme 0x%02x", ErrPayloadMalformed, data[0])
	}
}
