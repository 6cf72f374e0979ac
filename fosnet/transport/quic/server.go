package quic

import (
	"context"
	"crypto/tls"
	"sync"
	"time"

	q "github.com/quic-go/quic-go"
	"go.uber.org/zap"

	"github.com/fosgame/fosnet/fosnet/channel"
	"github.com/fosgame/fosnet/fosnet/metrics"
	"github.com/fosgame/fosnet/fosnet/transport"
	"github.com/fosgame/fosnet/fosnet/wire"
)

// handshakeTimeout bounds the window between QUIC accept and a completed
// hello exchange.
const handshakeTimeout = 10 * time.Second

// ServerConfig carries the startup parameters owned by the configuration
// layer. Zero values get sensible defaults except Registry, which is
// required.
type ServerConfig struct {
	ListenAddr    string
	Registry      *channel.Registry
	MaxClients    int
	IdleTimeout   time.Duration
	MaxFrameBytes uint32
	// TLS is the server certificate config. Nil means an ephemeral
	// self-signed certificate.
	TLS     *tls.Config
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

func (c *ServerConfig) fill() error {
	if c.Registry == nil {
		return transport.Errf(transport.KindInvalidConfig, "start", "nil channel registry")
	}
	if err := checkRegistry(c.Registry, "start"); err != nil {
		return err
	}
	if c.ListenAddr == "" {
		c.ListenAddr = ":0"
	}
	if c.MaxClients <= 0 {
		c.MaxClients = 64
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 30 * time.Second
	}
	if c.MaxFrameBytes == 0 {
		c.MaxFrameBytes = wire.DefaultMaxFrame
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Metrics == nil {
		c.Metrics = metrics.Nop()
	}
	return nil
}

type serverPeer struct {
	id   transport.ClientID
	send *sendConn

	mu sync.Mutex
	// closing records the reason of a locally initiated close so the
	// watcher reports it instead of the generic application error.
	closing *transport.DisconnectReason
	// gone means the disconnect event was already emitted.
	gone bool
}

// Server is the QUIC server transport.
type Server struct {
	cfg ServerConfig
	log *zap.Logger
	met *metrics.Metrics

	mu      sync.Mutex
	started bool
	ln      *q.Listener
	sink    *transport.Queue[transport.Event]
	peers   map[transport.ClientID]*serverPeer
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewServer builds a server transport; Start does the actual binding.
func NewServer(cfg ServerConfig) *Server {
	return &Server{cfg: cfg}
}

func (s *Server) Capabilities() transport.Capabilities { return capabilities }

// Start binds the listen address and begins accepting connections.
func (s *Server) Start(sink *transport.Queue[transport.Event]) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return transport.Errf(transport.KindOther, "start", "already started")
	}
	if sink == nil {
		return transport.Errf(transport.KindInvalidConfig, "start", "nil event sink")
	}
	if err := s.cfg.fill(); err != nil {
		return err
	}

	tlsConf := s.cfg.TLS
	if tlsConf == nil {
		var err error
		tlsConf, err = SelfSignedTLS()
		if err != nil {
			return &transport.Error{Kind: transport.KindOther, Op: "start", Err: err}
		}
	}

	ln, err := q.ListenAddr(s.cfg.ListenAddr, tlsConf, &q.Config{
		EnableDatagrams: true,
		MaxIdleTimeout:  s.cfg.IdleTimeout,
		KeepAlivePeriod: s.cfg.IdleTimeout / 2,
	})
	if err != nil {
		return &transport.Error{Kind: transport.KindInvalidConfig, Op: "start", Err: err}
	}

	s.started = true
	s.ln = ln
	s.sink = sink
	s.peers = make(map[transport.ClientID]*serverPeer)
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.log = s.cfg.Logger.With(zap.String("transport", transportName))
	s.met = s.cfg.Metrics

	s.wg.Add(1)
	go s.acceptLoop()

	s.log.Info("listening", zap.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the bound listen address ("" before Start). Useful with a
// ":0" listen address.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Stop closes the listener and every connection. Background tasks observe
// the cancellation and exit; Stop waits for them.
func (s *Server) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	peers := make([]*serverPeer, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	ln := s.ln
	s.cancel()
	s.mu.Unlock()

	for _, p := range peers {
		p.close(transport.Graceful)
	}
	_ = ln.Close()
	s.wg.Wait()
	s.log.Info("stopped")
}

func (s *Server) Send(client transport.ClientID, msg transport.OutgoingMessage) error {
	p, err := s.peer(client, "send")
	if err != nil {
		return err
	}
	if err := p.send.send(msg); err != nil {
		return err
	}
	s.met.MessageSent(transportName, msg.Channel)
	return nil
}

func (s *Server) SendDatagram(client transport.ClientID, payload []byte) error {
	p, err := s.peer(client, "send-datagram")
	if err != nil {
		return err
	}
	if err := p.send.sendDatagram(rawDatagramID, payload); err != nil {
		return err
	}
	s.met.DatagramSent(transportName)
	return nil
}

func (s *Server) Disconnect(client transport.ClientID, reason transport.DisconnectReason) error {
	p, err := s.peer(client, "disconnect")
	if err != nil {
		return err
	}
	p.close(reason)
	return nil
}

func (s *Server) peer(client transport.ClientID, op string) (*serverPeer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return nil, transport.Errf(transport.KindNotReady, op, "transport not started")
	}
	p, ok := s.peers[client]
	if !ok {
		return nil, transport.Errf(transport.KindOther, op, "unknown client %d", client)
	}
	return p, nil
}

// close closes the QUIC connection with the reason's code. The connection
// watcher emits the PeerDisconnected event; closing records the intended
// reason so the watcher reports what the caller asked for rather than the
// generic application error.
func (p *serverPeer) close(reason transport.DisconnectReason) {
	p.mu.Lock()
	if p.closing == nil {
		r := reason
		p.closing = &r
	}
	p.mu.Unlock()
	_ = p.send.conn.CloseWithError(closeCode(reason), reason.String())
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept(s.ctx)
		if err != nil {
			if s.ctx.Err() == nil {
				s.sink.Push(transport.ServerError{Err: &transport.Error{Kind: transport.KindIO, Op: "accept", Err: err}})
			}
			return
		}
		s.mu.Lock()
		full := len(s.peers) >= s.cfg.MaxClients
		s.mu.Unlock()
		if full {
			_ = conn.CloseWithError(codeServerFull, "server full")
			continue
		}
		s.wg.Add(1)
		go s.handshake(conn)
	}
}

// handshake accepts the client's control stream, validates its hello and
// answers. On success the connection joins the peer table and its read
// loops start.
func (s *Server) handshake(conn q.Connection) {
	defer s.wg.Done()
	ctx, cancel := context.WithTimeout(s.ctx, handshakeTimeout)
	defer cancel()

	control, err := conn.AcceptStream(ctx)
	if err != nil {
		_ = conn.CloseWithError(codeProtocolMismatch, "no control stream")
		return
	}
	var hello transport.ClientHello
	if err := wire.ReadMessage(control, wire.CBOR(), helloMaxFrame, &hello); err != nil {
		s.met.FrameError(transportName)
		_ = conn.CloseWithError(codeProtocolMismatch, "bad hello")
		return
	}
	if reason, ok := hello.Check(s.cfg.Registry); !ok {
		_ = wire.WriteMessage(control, wire.CBOR(), transport.ServerHello{
			Accepted: false,
			Version:  transport.ProtocolVersion,
			Reason:   reason,
		})
		s.log.Warn("rejecting client", zap.String("reason", reason),
			zap.Uint16("client_version", hello.Version))
		_ = conn.CloseWithError(codeProtocolMismatch, reason)
		return
	}

	id := transport.NextClientID()
	if err := wire.WriteMessage(control, wire.CBOR(), transport.ServerHello{
		Accepted: true,
		Version:  transport.ProtocolVersion,
		Client:   id,
	}); err != nil {
		_ = conn.CloseWithError(codeGraceful, "hello write failed")
		return
	}

	p := &serverPeer{id: id, send: newSendConn(conn, s.cfg.Registry)}
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		_ = conn.CloseWithError(codeGraceful, "shutting down")
		return
	}
	s.peers[id] = p
	s.mu.Unlock()

	s.met.Connect(transportName)
	s.log.Info("peer connected", zap.Uint64("client", uint64(id)),
		zap.String("remote", conn.RemoteAddr().String()),
		zap.Uint64("steam_id", uint64(hello.SteamID)))
	s.sink.Push(transport.PeerConnected{Client: id})

	in := inbound{
		message: func(ch channel.ID, payload []byte) {
			s.met.MessageReceived(transportName, ch)
			s.sink.Push(transport.PeerMessage{Client: id, Channel: ch, Payload: payload})
		},
		datagram: func(payload []byte) {
			s.met.DatagramReceived(transportName)
			s.sink.Push(transport.PeerDatagram{Client: id, Payload: payload})
		},
		decodeErr: func(err error) {
			s.met.FrameError(transportName)
			s.sink.Push(transport.ServerError{Err: err})
		},
	}
	s.wg.Add(3)
	go func() { defer s.wg.Done(); readUniStreams(s.ctx, conn, s.cfg.Registry, s.cfg.MaxFrameBytes, in) }()
	go func() { defer s.wg.Done(); readDatagrams(s.ctx, conn, s.cfg.Registry, in) }()
	go func() { defer s.wg.Done(); s.watch(p, conn) }()
}

// watch emits the PeerDisconnected event exactly once when the connection
// ends, for whatever reason.
func (s *Server) watch(p *serverPeer, conn q.Connection) {
	<-conn.Context().Done()

	reason := reasonFromError(context.Cause(conn.Context()))
	p.mu.Lock()
	if p.closing != nil {
		reason = *p.closing
	}
	if p.gone {
		p.mu.Unlock()
		return
	}
	p.gone = true
	p.mu.Unlock()

	s.mu.Lock()
	delete(s.peers, p.id)
	s.mu.Unlock()

	s.met.Disconnect(transportName, reason)
	s.log.Info("peer disconnected", zap.Uint64("client", uint64(p.id)), zap.String("reason", reason.String()))
	s.sink.Push(transport.PeerDisconnected{Client: p.id, Reason: reason})
}

var _ transport.ServerTransport = (*Server)(nil)
