// Package packet is the sequencing layer for transports that run over raw
// datagrams and need their own ordering and acknowledgment state. The QUIC
// transport does not use it; streams already order and retransmit there.
package packet

import (
	"encoding/binary"
	"errors"

	"github.com/fosgame/fosnet/fosnet/channel"
)

var ErrShortPacket = errors.New("packet: buffer too short")

const (
	// HeaderSize is the fixed envelope header length.
	HeaderSize = 17
	// FragmentHeaderSize is the fixed fragment header length.
	FragmentHeaderSize = 8

	flagFragmented byte = 0x01
)

// Header carries per-packet sequencing state. Seq numbers are per-channel
// and monotonic; Ack and AckBits acknowledge the peer's most recent seq
// and the 32 before it.
type Header struct {
	Channel   channel.ID
	Seq       uint32
	Ack       uint32
	AckBits   uint32
	Timestamp uint32
}

func (h Header) append(buf []byte) []byte {
	buf = append(buf, byte(h.Channel))
	buf = binary.BigEndian.AppendUint32(buf, h.Seq)
	buf = binary.BigEndian.AppendUint32(buf, h.Ack)
	buf = binary.BigEndian.AppendUint32(buf, h.AckBits)
	buf = binary.BigEndian.AppendUint32(buf, h.Timestamp)
	return buf
}

func parseHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, ErrShortPacket
	}
	return Header{
		Channel:   channel.ID(buf[0]),
		Seq:       binary.BigEndian.Uint32(buf[1:5]),
		Ack:       binary.BigEndian.Uint32(buf[5:9]),
		AckBits:   binary.BigEndian.Uint32(buf[9:13]),
		Timestamp: binary.BigEndian.Uint32(buf[13:17]),
	}, nil
}

// FragmentHeader identifies one piece of a message split across packets.
type FragmentHeader struct {
	MessageID uint32
	Index     uint16
	Count     uint16
}

func (f FragmentHeader) append(buf []byte) []byte {
	buf = binary.BigEndian.AppendUint32(buf, f.MessageID)
	buf = binary.BigEndian.AppendUint16(buf, f.Index)
	buf = binary.BigEndian.AppendUint16(buf, f.Count)
	return buf
}

func parseFragmentHeader(buf []byte) (FragmentHeader, error) {
	if len(buf) < FragmentHeaderSize {
		return FragmentHeader{}, ErrShortPacket
	}
	return FragmentHeader{
		MessageID: binary.BigEndian.Uint32(buf[0:4]),
		Index:     binary.BigEndian.Uint16(buf[4:6]),
		Count:     binary.BigEndian.Uint16(buf[6:8]),
	}, nil
}

// Envelope is one datagram-layer packet: a flag byte, the header, an
// optional fragment header, and the payload.
type Envelope struct {
	Header   Header
	Fragment *FragmentHeader
	Payload  []byte
}

// Marshal encodes the envelope.
// Layout: [1 byte flags][17 byte header][8 byte fragment, when flagged][payload].
func (e Envelope) Marshal() []byte {
	size := 1 + HeaderSize + len(e.Payload)
	if e.Fragment != nil {
		size += FragmentHeaderSize
	}
	buf := make([]byte, 0, size)

	var flags byte
	if e.Fragment != nil {
		flags |= flagFragmented
	}
	buf = append(buf, flags)
	buf = e.Header.append(buf)
	if e.Fragment != nil {
		buf = e.Fragment.append(buf)
	}
	return append(buf, e.Payload...)
}

// ParseEnvelope decodes one packet. The payload aliases buf.
func ParseEnvelope(buf []byte) (Envelope, error) {
	if len(buf) < 1+HeaderSize {
		return Envelope{}, ErrShortPacket
	}
	flags := buf[0]
	h, err := parseHeader(buf[1:])
	if err != nil {
		return Envelope{}, err
	}
	rest := buf[1+HeaderSize:]

	e := Envelope{Header: h}
	if flags&flagFragmented != 0 {
		f, err := parseFragmentHeader(rest)
		if err != nil {
			return Envelope{}, err
		}
		e.Fragment = &f
		rest = rest[FragmentHeaderSize:]
	}
	e.Payload = rest
	return e, nil
}
