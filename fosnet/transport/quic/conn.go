// Package quic is the production transport. Each reliable channel maps to
// a pair of unidirectional streams (one per direction); the unreliable
// channel and raw datagrams ride the connection's datagram facility with a
// one-byte channel-id prefix. Connection setup negotiates the ALPN at the
// TLS layer and the protocol version plus channel registry on a dedicated
// control stream.
package quic

import (
	"bufio"
	"context"
	"errors"
	"sync"

	q "github.com/quic-go/quic-go"

	"github.com/fosgame/fosnet/fosnet/channel"
	"github.com/fosgame/fosnet/fosnet/transport"
	"github.com/fosgame/fosnet/fosnet/wire"
)

const transportName = "quic"

// rawDatagramID is the reserved channel-id prefix for datagrams sent via
// SendDatagram rather than a registered channel. checkRegistry keeps
// registries from claiming it.
const rawDatagramID byte = 0xFF

// checkRegistry rejects registries that claim the reserved datagram
// prefix, which would make raw and channel datagrams indistinguishable.
func checkRegistry(r *channel.Registry, op string) error {
	if _, ok := r.Descriptor(channel.ID(rawDatagramID)); ok {
		return transport.Errf(transport.KindInvalidConfig, op, "channel id %d is reserved", rawDatagramID)
	}
	return nil
}

// helloMaxFrame bounds the control-stream hello frames. Hellos are tiny; a
// larger claim is an attack or a bug.
const helloMaxFrame = 4096

// Application-level close codes carried in the QUIC CONNECTION_CLOSE frame.
const (
	codeGraceful         q.ApplicationErrorCode = 0
	codeKicked           q.ApplicationErrorCode = 1
	codeAuthFailed       q.ApplicationErrorCode = 2
	codeProtocolMismatch q.ApplicationErrorCode = 3
	codeServerFull       q.ApplicationErrorCode = 4
)

var capabilities = transport.Capabilities{
	SupportsReliableStreams:   true,
	SupportsUnreliableStreams: true,
	SupportsDatagrams:         true,
	MaxChannels:               255, // id 0xFF is the raw-datagram prefix
}

func closeCode(r transport.DisconnectReason) q.ApplicationErrorCode {
	switch r {
	case transport.Kicked:
		return codeKicked
	case transport.AuthenticationFailed:
		return codeAuthFailed
	case transport.ProtocolMismatch:
		return codeProtocolMismatch
	default:
		return codeGraceful
	}
}

// reasonFromError maps a connection error to a disconnect reason. Explicit
// application closes carry their code; losing the peer is a timeout; the
// rest is a transport failure.
func reasonFromError(err error) transport.DisconnectReason {
	var appErr *q.ApplicationError
	if errors.As(err, &appErr) {
		switch appErr.ErrorCode {
		case codeGraceful:
			return transport.Graceful
		case codeKicked, codeServerFull:
			return transport.Kicked
		case codeAuthFailed:
			return transport.AuthenticationFailed
		case codeProtocolMismatch:
			return transport.ProtocolMismatch
		default:
			return transport.TransportError
		}
	}
	var idle *q.IdleTimeoutError
	if errors.As(err, &idle) {
		return transport.Timeout
	}
	return transport.TransportError
}

// sendConn owns the write side of one connection: the lazily opened
// per-channel unidirectional streams and the datagram sender.
type sendConn struct {
	conn     q.Connection
	registry *channel.Registry

	mu      sync.Mutex
	streams map[channel.ID]q.SendStream
}

func newSendConn(conn q.Connection, registry *channel.Registry) *sendConn {
	return &sendConn{
		conn:     conn,
		registry: registry,
		streams:  make(map[channel.ID]q.SendStream),
	}
}

// send transmits one channel message: datagram channels ride the datagram
// facility, everything else its dedicated stream.
func (s *sendConn) send(msg transport.OutgoingMessage) error {
	desc, ok := s.registry.Descriptor(msg.Channel)
	if !ok {
		return transport.Errf(transport.KindInvalidConfig, "send", "unregistered channel %d", msg.Channel)
	}
	payload := msg.Payload
	if desc.Compress {
		payload = wire.PackPayload(payload)
	}
	if desc.Datagram {
		return s.sendDatagram(byte(msg.Channel), payload)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.streams[msg.Channel]
	if !ok {
		var err error
		st, err = s.conn.OpenUniStreamSync(context.Background())
		if err != nil {
			return &transport.Error{Kind: transport.KindIO, Op: "send", Err: err}
		}
		// First byte on a channel stream names the channel.
		if _, err := st.Write([]byte{byte(msg.Channel)}); err != nil {
			return &transport.Error{Kind: transport.KindIO, Op: "send", Err: err}
		}
		s.streams[msg.Channel] = st
	}
	if err := wire.WriteFrame(st, payload); err != nil {
		if errors.Is(err, wire.ErrFrameTooLarge) {
			return &transport.Error{Kind: transport.KindSerialization, Op: "send", Err: err}
		}
		return &transport.Error{Kind: transport.KindIO, Op: "send", Err: err}
	}
	return nil
}

func (s *sendConn) sendDatagram(id byte, payload []byte) error {
	buf := make([]byte, 1+len(payload))
	buf[0] = id
	copy(buf[1:], payload)
	if err := s.conn.SendDatagram(buf); err != nil {
		return &transport.Error{Kind: transport.KindIO, Op: "send-datagram", Err: err}
	}
	return nil
}

// inbound is what the read loops deliver to; server and client wrap their
// own event types around it.
type inbound struct {
	message   func(ch channel.ID, payload []byte)
	datagram  func(payload []byte)
	decodeErr func(err error)
}

// readUniStreams accepts peer-opened unidirectional streams and decodes
// channel frames off each.
func readUniStreams(ctx context.Context, conn q.Connection, registry *channel.Registry, maxFrame uint32, in inbound) {
	for {
		st, err := conn.AcceptUniStream(ctx)
		if err != nil {
			return
		}
		go readChannelStream(st, registry, maxFrame, in)
	}
}

func readChannelStream(st q.ReceiveStream, registry *channel.Registry, maxFrame uint32, in inbound) {
	br := bufio.NewReader(st)
	id, err := br.ReadByte()
	if err != nil {
		return
	}
	ch := channel.ID(id)
	desc, ok := registry.Descriptor(ch)
	if !ok {
		// A stream for a channel we never registered: protocol noise from
		// a mismatched peer. The hello hash should have caught this.
		in.decodeErr(transport.Errf(transport.KindSerialization, "recv", "stream for unregistered channel %d", ch))
		st.CancelRead(q.StreamErrorCode(codeProtocolMismatch))
		return
	}
	for {
		payload, err := wire.ReadFrame(br, maxFrame)
		if err != nil {
			if errors.Is(err, wire.ErrFrameTooLarge) || errors.Is(err, wire.ErrFrameMalformed) {
				in.decodeErr(err)
				st.CancelRead(q.StreamErrorCode(codeProtocolMismatch))
			}
			return
		}
		if desc.Compress {
			payload, err = wire.UnpackPayload(payload, maxFrame)
			if err != nil {
				in.decodeErr(err)
				st.CancelRead(q.StreamErrorCode(codeProtocolMismatch))
				return
			}
		}
		in.message(ch, payload)
	}
}

// readDatagrams drains the connection's datagram facility. Datagrams too
// short to carry the channel-id prefix are dropped silently; they are
// protocol noise, not an error.
func readDatagrams(ctx context.Context, conn q.Connection, registry *channel.Registry, in inbound) {
	for {
		data, err := conn.ReceiveDatagram(ctx)
		if err != nil {
			return
		}
		if len(data) <= 1 {
			continue
		}
		id, payload := data[0], data[1:]
		if id == rawDatagramID {
			in.datagram(payload)
			continue
		}
		ch := channel.ID(id)
		if desc, ok := registry.Descriptor(ch); ok && desc.Datagram {
			if desc.Compress {
				unpacked, err := wire.UnpackPayload(payload, 0)
				if err != nil {
					// Same noise policy as too-short datagrams.
					continue
				}
				payload = unpacked
			}
			in.message(ch, payload)
		}
		// Unknown prefix: drop, same as too-short datagrams.
	}
}
