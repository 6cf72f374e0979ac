package transport

import "github.com/fosgame/fosnet/fosnet/channel"

// ProtocolVersion is negotiated during connection setup. Bump on any wire
// change that older peers cannot parse.
const ProtocolVersion uint16 = 1

// ClientHello is the first control frame a client sends. RegistryHash is
// the client's channel registry digest; both sides must have built the
// same registry for channel ids to mean the same thing.
type ClientHello struct {
	Version      uint16  `cbor:"1,keyasint"`
	RegistryHash uint64  `cbor:"2,keyasint"`
	SteamID      SteamID `cbor:"3,keyasint,omitempty"`
}

// ServerHello answers a ClientHello. When Accepted is false the server
// closes the connection with a protocol-mismatch reason and Reason holds a
// human-readable explanation for logs.
type ServerHello struct {
	Accepted bool     `cbor:"1,keyasint"`
	Version  uint16   `cbor:"2,keyasint"`
	Client   ClientID `cbor:"3,keyasint,omitempty"`
	Reason   string   `cbor:"4,keyasint,omitempty"`
}

// Check validates a ClientHello against the local version and registry.
// A non-empty reason means the connection must end with ProtocolMismatch.
func (h ClientHello) Check(registry *channel.Registry) (reason string, ok bool) {
	if h.Version != ProtocolVersion {
		return "protocol version mismatch", false
	}
	if h.RegistryHash != registry.Hash() {
		return "channel registry mismatch", false
	}
	return "", true
}

// NewClientHello builds the hello for the local registry.
func NewClientHello(registry *channel.Registry, steamID SteamID) ClientHello {
	return ClientHello{
		Version:      ProtocolVersion,
		RegistryHash: registry.Hash(),
		SteamID:      steamID,
	}
}
