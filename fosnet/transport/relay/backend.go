// Package relay is the transport routed through the platform's relay
// service. Peer connectivity, NAT traversal and message delivery belong to
// the relay SDK behind the Backend interface; this package contributes the
// channel/framing layer, the connection handshake and the ticket
// authentication state machine.
package relay

import (
	"github.com/fosgame/fosnet/fosnet/transport"
)

// SendFlags selects the relay delivery mode for one payload.
type SendFlags uint8

const (
	SendUnreliable SendFlags = iota
	SendReliable
)

// AuthResult is the relay identity service's verdict on a ticket.
type AuthResult uint8

const (
	AuthOK AuthResult = iota
	// AuthDuplicateRequest means a session for this identity is already
	// active from a prior, stale attempt. The relay reports it as a
	// distinct code but it is treated as success, not failure.
	AuthDuplicateRequest
	AuthInvalidTicket
	AuthExpired
	AuthCanceled
	AuthNetworkIdentityFailure
)

func (r AuthResult) String() string {
	switch r {
	case AuthOK:
		return "ok"
	case AuthDuplicateRequest:
		return "duplicate-request"
	case AuthInvalidTicket:
		return "invalid-ticket"
	case AuthExpired:
		return "expired"
	case AuthCanceled:
		return "canceled"
	case AuthNetworkIdentityFailure:
		return "network-identity-failure"
	default:
		return "unknown"
	}
}

// ok reports whether the verdict authenticates the session.
func (r AuthResult) ok() bool {
	return r == AuthOK || r == AuthDuplicateRequest
}

// BackendEvent is one asynchronous callback from the relay SDK, delivered
// over a channel instead of from an arbitrary callback thread.
type BackendEvent interface{ backendEvent() }

// PeerConnecting reports a peer opening a relay session to us.
type PeerConnecting struct {
	Peer transport.SteamID
}

// PeerDisconnected reports a relay session ending. Err is nil for an
// orderly close.
type PeerDisconnected struct {
	Peer transport.SteamID
	Err  error
}

// PeerPayload is one inbound relay message.
type PeerPayload struct {
	Peer transport.SteamID
	Data []byte
}

// AuthResponse is the asynchronous answer to BeginAuthSession. Owner
// differs from Peer when the game is family-shared.
type AuthResponse struct {
	Peer   transport.SteamID
	Owner  transport.SteamID
	Result AuthResult
}

func (PeerConnecting) backendEvent()   {}
func (PeerDisconnected) backendEvent() {}
func (PeerPayload) backendEvent()      {}
func (AuthResponse) backendEvent()     {}

// Backend is the slice of the relay SDK this transport needs. A real
// implementation wraps the platform SDK; tests use an in-memory fake; a
// build without the SDK uses Disabled.
type Backend interface {
	// Open initializes the SDK session. Must be called before anything else.
	Open() error
	// Close tears the SDK session down. Events() is closed afterwards.
	Close()
	// JoinLobby resolves a lobby to its host identity and joins it.
	JoinLobby(lobby transport.LobbyID) (transport.SteamID, error)
	// SendToPeer delivers one payload over the relay session to peer.
	SendToPeer(peer transport.SteamID, data []byte, flags SendFlags) error
	// ClosePeer ends the relay session with peer.
	ClosePeer(peer transport.SteamID)
	// BeginAuthSession asks the identity service to validate ticket for
	// peer. The verdict arrives later as an AuthResponse event.
	BeginAuthSession(ticket []byte, peer transport.SteamID) error
	// EndAuthSession releases the auth session for peer. Safe to call for
	// peers with no session.
	EndAuthSession(peer transport.SteamID)
	// Events is the callback channel. Closed by Close.
	Events() <-chan BackendEvent
}

// Disabled is the backend used when relay support is compiled out or the
// SDK failed to initialize. It satisfies the full contract; every
// operation reports a Disabled error, so calling code never branches on
// build configuration.
type Disabled struct{}

func errDisabled(op string) error {
	return transport.Errf(transport.KindDisabled, op, "relay backend not available")
}

func (Disabled) Open() error { return errDisabled("open") }
func (Disabled) Close()      {}

func (Disabled) JoinLobby(transport.LobbyID) (transport.SteamID, error) {
	return 0, errDisabled("join-lobby")
}

func (Disabled) SendToPeer(transport.SteamID, []byte, SendFlags) error {
	return errDisabled("send")
}

func (Disabled) ClosePeer(transport.SteamID) {}

func (Disabled) BeginAuthSession([]byte, transport.SteamID) error {
	return errDisabled("begin-auth")
}

func (Disabled) EndAuthSession(transport.SteamID) {}

func (Disabled) Events() <-chan BackendEvent {
	ch := make(chan BackendEvent)
	close(ch)
	return ch
}

var _ Backend = Disabled{}
