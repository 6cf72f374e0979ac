package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	in := []byte("hello")
	if err := WriteFrame(&buf, in); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	out, err := ReadFrame(&buf, 0)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if !bytes.Equal(out, in) {
		t.Fatalf("payload mismatch: %q != %q", out, in)
	}
}

func TestFrameEmptyPayload(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, nil); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	out, err := ReadFrame(&buf, 0)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected empty payload, got %d bytes", len(out))
	}
}

func TestReadFrameRejectsOversized(t *testing.T) {
	// Hand-craft a frame whose length prefix claims more than the limit.
	// The reader must fail before allocating the claimed buffer.
	var buf bytes.Buffer
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], 1<<30)
	buf.Write(lenBuf[:])
	buf.Write(bytes.Repeat([]byte{0xab}, 16))

	_, err := ReadFrame(&buf, 1024)
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestReadFrameLimitBoundary(t *testing.T) {
	payload := bytes.Repeat([]byte{0x01}, 64)

	var buf bytes.Buffer
	if err := WriteFrame(&buf, payload); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	if _, err := ReadFrame(&buf, 64); err != nil {
		t.Fatalf("frame at exactly the limit rejected: %v", err)
	}

	buf.Reset()
	if err := WriteFrame(&buf, payload); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	if _, err := ReadFrame(&buf, 63); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("frame one past the limit accepted: %v", err)
	}
}

func TestMessageRoundTrip(t *testing.T) {
	type hello struct {
		Version uint16 `json:"version"`
		Name    string `json:"name"`
	}
	for _, c := range []Codec{CBOR(), JSON()} {
		var buf bytes.Buffer
		in := hello{Version: 3, Name: "fos"}
		if err := WriteMessage(&buf, c, in); err != nil {
			t.Fatalf("%s: WriteMessage: %v", c.ContentType(), err)
		}
		var out hello
		if err := ReadMessage(&buf, c, 0, &out); err != nil {
			t.Fatalf("%s: ReadMessage: %v", c.ContentType(), err)
		}
		if out != in {
			t.Fatalf("%s: round trip mismatch: %+v != %+v", c.ContentType(), out, in)
		}
	}
}

func TestReadMessageMalformedIsDistinct(t *testing.T) {
	// A well-framed but undecodable payload must surface as
	// ErrFrameMalformed, not ErrFrameTooLarge.
	var buf bytes.Buffer
	if err := WriteFrame(&buf, []byte{0xff, 0x00, 0xfe}); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	var out struct{ A int }
	err := ReadMessage(&buf, JSON(), 0, &out)
	if !errors.Is(err, ErrFrameMalformed) {
		t.Fatalf("expected ErrFrameMalformed, got %v", err)
	}
	if errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("malformed frame misreported as too large")
	}
}

func TestPackPayloadShrinksRepetitiveData(t *testing.T) {
	data := bytes.Repeat([]byte("entity state "), 512)
	packed := PackPayload(data)
	if packed[0] != schemeLZ4 {
		t.Fatalf("repetitive payload packed with scheme %d, want lz4", packed[0])
	}
	if len(packed) >= len(data) {
		t.Fatalf("packing did not shrink repetitive payload (%d >= %d)", len(packed), len(data))
	}
	out, err := UnpackPayload(packed, 0)
	if err != nil {
		t.Fatalf("UnpackPayload: %v", err)
	}
	if !bytes.Equal(out, data) {
		t.Fatalf("round trip mismatch")
	}
}

func TestPackPayloadLeavesSmallAndIncompressibleRaw(t *testing.T) {
	small := []byte("tiny")
	packed := PackPayload(small)
	if packed[0] != schemeRaw || len(packed) != 1+len(small) {
		t.Fatalf("small payload packed as % x", packed)
	}
	out, err := UnpackPayload(packed, 0)
	if err != nil || !bytes.Equal(out, small) {
		t.Fatalf("raw round trip: %v, % x", err, out)
	}

	// High-entropy data does not shrink; packing must fall back to raw
	// rather than grow the payload.
	noise := make([]byte, 4096)
	for i := range noise {
		noise[i] = byte(i*7 + i>>3)
	}
	random := append([]byte(nil), noise...)
	for i := 1; i < len(random); i++ {
		random[i] ^= random[i-1]*31 + 17
	}
	packed = PackPayload(random)
	if len(packed) > 1+len(random) {
		t.Fatalf("packing grew payload by %d bytes", len(packed)-len(random))
	}
	out, err = UnpackPayload(packed, 0)
	if err != nil || !bytes.Equal(out, random) {
		t.Fatalf("fallback round trip: %v", err)
	}
}

func TestUnpackPayloadRejectsGarbage(t *testing.T) {
	cases := [][]byte{
		nil,
		{},
		{9, 1, 2, 3},                // unknown scheme
		{schemeLZ4, 0xde, 0xad},     // not an lz4 frame
		PackPayload(bytes.Repeat([]byte("x"), 1024))[:12], // truncated mid-block
	}
	for i, data := range cases {
		if _, err := UnpackPayload(data, 0); !errors.Is(err, ErrPayloadMalformed) {
			t.Fatalf("case %d: expected ErrPayloadMalformed, got %v", i, err)
		}
	}
}

func TestUnpackPayloadBoundsDecompressedSize(t *testing.T) {
	data := bytes.Repeat([]byte("water water water "), 1024)
	packed := PackPayload(data)
	if packed[0] != schemeLZ4 {
		t.Fatalf("payload did not compress")
	}
	if _, err := UnpackPayload(packed, 128); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
	if out, err := UnpackPayload(packed, uint32(len(data))); err != nil || !bytes.Equal(out, data) {
		t.Fatalf("unpack at exact limit: %v", err)
	}
}
