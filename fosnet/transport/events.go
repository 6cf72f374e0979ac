package transport

import "github.com/fosgame/fosnet/fosnet/channel"

// DisconnectReason explains why a connection ended.
type DisconnectReason uint8

const (
	Graceful DisconnectReason = iota
	Timeout
	Kicked
	AuthenticationFailed
	ProtocolMismatch
	TransportError
)

// DisconnectReasonFromWire maps a peer-supplied byte to a reason. Values
// outside the enum clamp to TransportError instead of producing an
// out-of-range reason.
func DisconnectReasonFromWire(v uint8) DisconnectReason {
	r := DisconnectReason(v)
	if r > TransportError {
		return TransportError
	}
	return r
}

func (r DisconnectReason) String() string {
	switch r {
	case Graceful:
		return "graceful"
	case Timeout:
		return "timeout"
	case Kicked:
		return "kicked"
	case AuthenticationFailed:
		return "authentication-failed"
	case ProtocolMismatch:
		return "protocol-mismatch"
	case TransportError:
		return "transport-error"
	default:
		return "unknown"
	}
}

// Event is one server-observed transport event. Events are plain values
// produced by a transport and consumed exactly once by the owning event
// loop; they hold no reference back to the transport.
type Event interface{ transportEvent() }

// PeerConnected reports a client that completed connection setup.
type PeerConnected struct {
	Client ClientID
}

// PeerDisconnected reports a client whose connection ended.
type PeerDisconnected struct {
	Client ClientID
	Reason DisconnectReason
}

// PeerMessage is an inbound channel message from a client.
type PeerMessage struct {
	Client  ClientID
	Channel channel.ID
	Payload []byte
}

// PeerDatagram is an inbound raw datagram from a client.
type PeerDatagram struct {
	Client  ClientID
	Payload []byte
}

// PeerAuthResult reports the outcome of a relay ticket validation for a
// client. Err is nil on success. OwnerSteamID differs from SteamID when the
// game is family-shared.
type PeerAuthResult struct {
	Client       ClientID
	SteamID      SteamID
	OwnerSteamID SteamID
	Err          error
}

// ServerError is an asynchronous transport failure that is not tied to one
// client connection.
type ServerError struct {
	Err error
}

func (PeerConnected) transportEvent()    {}
func (PeerDisconnected) transportEvent() {}
func (PeerMessage) transportEvent()      {}
func (PeerDatagram) transportEvent()     {}
func (PeerAuthResult) transportEvent()   {}
func (ServerError) transportEvent()      {}

// ClientEvent is one client-observed transport event.
type ClientEvent interface{ clientEvent() }

// Connected reports that the connection to the server is established.
// Client is server-assigned where the transport negotiates one; loopback
// fills in a SyntheticClientID instead.
type Connected struct {
	Client ClientID
}

// Disconnected reports that the connection to the server ended.
type Disconnected struct {
	Reason DisconnectReason
}

// Message is an inbound channel message from the server.
type Message struct {
	Channel channel.ID
	Payload []byte
}

// Datagram is an inbound raw datagram from the server.
type Datagram struct {
	Payload []byte
}

// AuthResult reports the outcome of this client's own ticket validation.
type AuthResult struct {
	SteamID      SteamID
	OwnerSteamID SteamID
	Err          error
}

// ClientError is an asynchronous transport failure on the client side.
type ClientError struct {
	Err error
}

func (Connected) clientEvent()    {}
func (Disconnected) clientEvent() {}
func (Message) clientEvent()      {}
func (Datagram) clientEvent()     {}
func (AuthResult) clientEvent()   {}
func (ClientError) clientEvent()  {}
