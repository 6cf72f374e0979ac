// Package loopback is an in-process transport pair with no real I/O. It
// backs single-player mode and makes transport-dependent logic testable
// without a network.
//
// Loopback preserves global per-direction order: the Nth send on one half
// is the Nth receive on the other, for every channel. That is a deliberate
// simplification versus QUIC, which only orders within a channel.
package loopback

import (
	"sync"

	"github.com/fosgame/fosnet/fosnet/transport"
)

// ClientID is the fixed synthetic id of the single loopback client.
const ClientID transport.ClientID = 1

var capabilities = transport.Capabilities{
	SupportsReliableStreams:   true,
	SupportsUnreliableStreams: true,
	SupportsDatagrams:         true,
	MaxChannels:               256,
}

// core is the shared state of one loopback pair. All sends and lifecycle
// transitions happen under one lock, which is what gives loopback its
// global ordering guarantee.
type core struct {
	mu         sync.Mutex
	serverSink *transport.Queue[transport.Event]
	clientSink *transport.Queue[transport.ClientEvent]
	started    bool
	connected  bool
}

// Client is the client half of a loopback pair.
type Client struct{ c *core }

// Server is the server half of a loopback pair.
type Server struct{ c *core }

// NewPair returns the two halves of a fresh loopback transport. There is
// exactly one client per pair.
func NewPair() (*Client, *Server) {
	c := &core{}
	return &Client{c: c}, &Server{c: c}
}

// shutdown delivers exactly one Graceful (or other reason) disconnect pair,
// no matter how many times either side asks.
func (c *core) shutdown(reason transport.DisconnectReason) {
	if !c.connected {
		return
	}
	c.connected = false
	c.clientSink.Push(transport.Disconnected{Reason: reason})
	c.serverSink.Push(transport.PeerDisconnected{Client: ClientID, Reason: reason})
}

// Start registers the server's event sink. The loopback server accepts at
// most one client; Start before Connect is required.
func (s *Server) Start(sink *transport.Queue[transport.Event]) error {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	if sink == nil {
		return transport.Errf(transport.KindInvalidConfig, "start", "nil event sink")
	}
	s.c.serverSink = sink
	s.c.started = true
	return nil
}

// Stop tears the pair down, delivering the disconnect pair if a client was
// connected.
func (s *Server) Stop() {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	s.c.shutdown(transport.Graceful)
	s.c.started = false
}

func (s *Server) Send(client transport.ClientID, msg transport.OutgoingMessage) error {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	if !s.c.connected {
		return transport.Errf(transport.KindNotReady, "send", "no client connected")
	}
	if client != ClientID {
		return transport.Errf(transport.KindOther, "send", "unknown client %d", client)
	}
	s.c.clientSink.Push(transport.Message{Channel: msg.Channel, Payload: msg.Payload})
	return nil
}

func (s *Server) SendDatagram(client transport.ClientID, payload []byte) error {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	if !s.c.connected {
		return transport.Errf(transport.KindNotReady, "send-datagram", "no client connected")
	}
	if client != ClientID {
		return transport.Errf(transport.KindOther, "send-datagram", "unknown client %d", client)
	}
	s.c.clientSink.Push(transport.Datagram{Payload: payload})
	return nil
}

func (s *Server) Disconnect(client transport.ClientID, reason transport.DisconnectReason) error {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	if client != ClientID {
		return transport.Errf(transport.KindOther, "disconnect", "unknown client %d", client)
	}
	s.c.shutdown(reason)
	return nil
}

func (s *Server) Capabilities() transport.Capabilities { return capabilities }

// Connect attaches the client half. The target is ignored; a loopback pair
// has exactly one destination. Connected/PeerConnected are emitted
// immediately, before Connect returns.
func (c *Client) Connect(_ transport.ConnectTarget, sink *transport.Queue[transport.ClientEvent]) error {
	c.c.mu.Lock()
	defer c.c.mu.Unlock()
	if sink == nil {
		return transport.Errf(transport.KindInvalidConfig, "connect", "nil event sink")
	}
	if !c.c.started {
		return transport.Errf(transport.KindNotReady, "connect", "loopback server not started")
	}
	if c.c.connected {
		return transport.Errf(transport.KindOther, "connect", "already connected")
	}
	c.c.clientSink = sink
	c.c.connected = true
	// No server-assigned id exists on this transport, so the client-side
	// event carries a synthetic one.
	sink.Push(transport.Connected{Client: transport.SyntheticClientID()})
	c.c.serverSink.Push(transport.PeerConnected{Client: ClientID})
	return nil
}

func (c *Client) Disconnect(reason transport.DisconnectReason) error {
	c.c.mu.Lock()
	defer c.c.mu.Unlock()
	c.c.shutdown(reason)
	return nil
}

func (c *Client) Send(msg transport.OutgoingMessage) error {
	c.c.mu.Lock()
	defer c.c.mu.Unlock()
	if !c.c.connected {
		return transport.Errf(transport.KindNotReady, "send", "not connected")
	}
	c.c.serverSink.Push(transport.PeerMessage{Client: ClientID, Channel: msg.Channel, Payload: msg.Payload})
	return nil
}

func (c *Client) SendDatagram(payload []byte) error {
	c.c.mu.Lock()
	defer c.c.mu.Unlock()
	if !c.c.connected {
		return transport.Errf(transport.KindNotReady, "send-datagram", "not connected")
	}
	c.c.serverSink.Push(transport.PeerDatagram{Client: ClientID, Payload: payload})
	return nil
}

func (c *Client) Capabilities() transport.Capabilities { return capabilities }

var (
	_ transport.ClientTransport = (*Client)(nil)
	_ transport.ServerTransport = (*Server)(nil)
)
