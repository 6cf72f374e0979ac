// Package wire implements the length-prefixed frame codec used on every
// byte-stream transport, plus the pluggable payload serializers.
//
// Wire layout of one frame:
//
//	4 bytes: payload length (big endian)
//	N bytes: payload
//
// Frames carry opaque bytes; what the bytes mean is the caller's business
// (channel payloads are application data, control frames are CBOR-encoded
// hello messages).
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// DefaultMaxFrame bounds the payload of a single frame unless the caller
// overrides the limit. It protects a reader from allocating whatever a
// malicious or corrupted peer claims in the length prefix.
const DefaultMaxFrame = 1 << 20 // 1 MiB

var (
	// ErrFrameTooLarge means the length prefix exceeded the reader's limit
	// (or the writer's payload exceeded the 32-bit length field). The frame
	// body has not been consumed.
	ErrFrameTooLarge = errors.New("wire: frame payload too large")

	// ErrFrameMalformed means the frame was read in full but its payload
	// failed to deserialize. Kept distinct from ErrFrameTooLarge so callers
	// can apply different telemetry or banning policy to the two cases.
	ErrFrameMalformed = errors.New("wire: frame payload malformed")
)

// WriteFrame writes one length-prefixed frame.
func WriteFrame(w io.Writer, payload []byte) error {
	if int64(len(payload)) > int64(^uint32(0)) {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return err
		}
	}
	return nil
}

// ReadFrame reads one frame, rejecting payloads larger than max before
// allocating anything. maxFrame == 0 means DefaultMaxFrame.
func ReadFrame(r io.Reader, maxFrame uint32) ([]byte, error) {
	if maxFrame == 0 {
		maxFrame = DefaultMaxFrame
	}
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrame {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, n, maxFrame)
	}
	payload := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, err
		}
	}
	return payload, nil
}

// WriteMessage serializes v with c and writes it as one frame.
func WriteMessage(w io.Writer, c Codec, v any) error {
	payload, err := c.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFrameMalformed, err)
	}
	return WriteFrame(w, payload)
}

// ReadMessage reads one frame and deserializes it into v.
func ReadMessage(r io.Reader, c Codec, maxFrame uint32, v any) error {
	payload, err := ReadFrame(r, maxFrame)
	if err != nil {
		return err
	}
	if err := c.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %v", ErrFrameMalformed, err)
	}
	return nil
}
