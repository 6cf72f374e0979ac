// Package transport defines the contracts every transport implementation
// (QUIC, relay, loopback) satisfies, the event types they produce, and the
// queue that bridges their background tasks into the game's tick loop.
//
// All operations are non-blocking from the caller's perspective: Send,
// Connect and Disconnect enqueue work and return; results surface later as
// events on the sink the caller registered.
package transport

import "github.com/fosgame/fosnet/fosnet/channel"

// OutgoingMessage is one channel message handed to a transport for
// transmission. Ownership of Payload passes to the transport; the caller
// must not reuse the slice.
type OutgoingMessage struct {
	Channel channel.ID
	Payload []byte
}

// Capabilities describes what a transport implementation can do. Consumers
// must not invoke unsupported operations; a transport never falls back
// silently (SendDatagram on a stream-only transport errors, it does not
// degrade to a stream).
type Capabilities struct {
	SupportsReliableStreams   bool
	SupportsUnreliableStreams bool
	SupportsDatagrams         bool
	MaxChannels               int
}

// LobbyID identifies a relay lobby.
type LobbyID uint64

// ConnectTarget is the closed set of client addressing modes.
type ConnectTarget interface{ connectTarget() }

// QUICTarget addresses a server by host and port for a direct QUIC
// connection.
type QUICTarget struct {
	Host string
	Port uint16
}

// RelayTarget addresses a server through the relay service by lobby.
type RelayTarget struct {
	Lobby LobbyID
}

// LoopbackTarget addresses the in-process server half. Loopback ignores
// addressing entirely; the type exists so callers can express intent.
type LoopbackTarget struct{}

func (QUICTarget) connectTarget()     {}
func (RelayTarget) connectTarget()    {}
func (LoopbackTarget) connectTarget() {}

// ClientTransport is the client-side contract.
type ClientTransport interface {
	// Connect starts connecting to target. Events, including the final
	// Connected or Disconnected, surface on sink.
	Connect(target ConnectTarget, sink *Queue[ClientEvent]) error
	// Disconnect tears the connection down with the given reason.
	Disconnect(reason DisconnectReason) error
	// Send transmits one channel message.
	Send(msg OutgoingMessage) error
	// SendDatagram transmits one raw datagram. Errors when the transport's
	// capabilities do not include datagrams.
	SendDatagram(payload []byte) error
	// Capabilities reports what this implementation supports.
	Capabilities() Capabilities
}

// ServerTransport is the server-side contract. A server transport binds
// and listens; it has no connect target.
type ServerTransport interface {
	// Start binds the transport and begins accepting peers. Events surface
	// on sink.
	Start(sink *Queue[Event]) error
	// Stop shuts the transport down. All background tasks observe the
	// shutdown within one polling interval.
	Stop()
	// Send transmits one channel message to a connected client.
	Send(client ClientID, msg OutgoingMessage) error
	// SendDatagram transmits one raw datagram to a connected client.
	SendDatagram(client ClientID, payload []byte) error
	// Disconnect drops one client with the given reason.
	Disconnect(client ClientID, reason DisconnectReason) error
	// Capabilities reports what this implementation supports.
	Capabilities() Capabilities
}
