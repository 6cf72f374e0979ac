package transport

import (
	"sync/atomic"
	"time"
)

// ClientID identifies one connected client for the lifetime of its
// connection. Server transports assign it on connect.
type ClientID uint64

// ServerID identifies a server instance, e.g. in discovery announcements.
type ServerID uint64

// SessionID identifies one authenticated session.
type SessionID uint64

// SteamID is the platform identity of a peer as reported by the relay
// service. Zero means "no platform identity" (direct or loopback play).
type SteamID uint64

var clientIDSeq atomic.Uint64

// NextClientID returns the next server-assigned client id. IDs are unique
// within a process and never zero.
func NextClientID() ClientID {
	return ClientID(clientIDSeq.Add(1))
}

// SyntheticClientID derives a client id from the wall clock. Used on the
// client side for unauthenticated flows where no server-assigned id exists
// yet but gameplay code wants a stable identifier.
func SyntheticClientID() ClientID {
	return ClientID(time.Now().UnixNano())
}
