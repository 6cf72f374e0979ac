package relay

import (
	"github.com/fosgame/fosnet/fosnet/channel"
	"github.com/fosgame/fosnet/fosnet/transport"
	"github.com/fosgame/fosnet/fosnet/wire"
)

const transportName = "relay"

// Relay messages arrive already delimited, so payloads carry no length
// prefix. The first byte routes: a registered channel id, or one of the
// reserved prefixes below.
const (
	// rawDatagramID marks a raw datagram outside the channel model.
	rawDatagramID byte = 0xFF
	// controlID marks a transport control payload; the second byte is the
	// control kind.
	controlID byte = 0xFE
)

// Control payload kinds.
const (
	ctlHello      byte = 0 // client -> server, CBOR helloEnvelope
	ctlReply      byte = 1 // server -> client, CBOR transport.ServerHello
	ctlAuthNotice byte = 2 // server -> client, CBOR authNotice
	ctlGoodbye    byte = 3 // server -> client, CBOR goodbyeNotice
)

var capabilities = transport.Capabilities{
	SupportsReliableStreams:   true,
	SupportsUnreliableStreams: false,
	SupportsDatagrams:         true,
	MaxChannels:               254, // ids 0xFE and 0xFF are reserved
}

// checkRegistry rejects registries that claim a reserved payload prefix,
// which would collide with control traffic or raw datagrams.
func checkRegistry(r *channel.Registry, op string) error {
	for _, id := range []byte{controlID, rawDatagramID} {
		if _, ok := r.Descriptor(channel.ID(id)); ok {
			return transport.Errf(transport.KindInvalidConfig, op, "channel id %d is reserved", id)
		}
	}
	return nil
}

// helloEnvelope is the relay handshake: the common hello plus the sealed
// auth ticket. An empty ticket skips ticket validation for this peer.
type helloEnvelope struct {
	Hello  transport.ClientHello `cbor:"1,keyasint"`
	Ticket []byte                `cbor:"2,keyasint,omitempty"`
}

// authNotice tells the client how its own ticket validation went.
type authNotice struct {
	SteamID transport.SteamID `cbor:"1,keyasint"`
	Owner   transport.SteamID `cbor:"2,keyasint,omitempty"`
	Result  uint8             `cbor:"3,keyasint"`
	Reason  string            `cbor:"4,keyasint,omitempty"`
}

// goodbyeNotice precedes a server-initiated session close so the client
// reports the real reason instead of a generic transport error.
type goodbyeNotice struct {
	Reason uint8 `cbor:"1,keyasint"`
}

// channelPayload builds [channel id][payload].
func channelPayload(ch byte, payload []byte) []byte {
	buf := make([]byte, 1+len(payload))
	buf[0] = ch
	copy(buf[1:], payload)
	return buf
}

// controlPayload builds [0xFE][kind][CBOR body].
func controlPayload(kind byte, body any) ([]byte, error) {
	enc, err := wire.CBOR().Marshal(body)
	if err != nil {
		return nil, &transport.Error{Kind: transport.KindSerialization, Op: "control", Err: err}
	}
	buf := make([]byte, 2+len(enc))
	buf[0] = controlID
	buf[1] = kind
	copy(buf[2:], enc)
	return buf, nil
}

// sendFlagsFor picks the relay delivery mode for a channel.
func sendFlagsFor(datagram bool) SendFlags {
	if datagram {
		return SendUnreliable
	}
	return SendReliable
}
