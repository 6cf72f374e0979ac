package relay

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/fosgame/fosnet/fosnet/channel"
	"github.com/fosgame/fosnet/fosnet/metrics"
	"github.com/fosgame/fosnet/fosnet/transport"
	"github.com/fosgame/fosnet/fosnet/wire"
)

// ServerConfig carries the relay server transport's startup parameters.
type ServerConfig struct {
	Registry *channel.Registry
	Backend  Backend
	// Sealer verifies the identity embedded in presented tickets. Nil
	// leaves tickets opaque and defers entirely to the relay.
	Sealer  *TicketSealer
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
	if c.Backend == nil {
		c.Backend = Disabled{}
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Metrics == nil {
		c.Metrics = metrics.Nop()
	}
	return nil
}

type relayPeer struct {
	steam transport.SteamID
	// id stays zero until the hello completes; payloads other than the
	// hello are dropped before that.
	id   transport.ClientID
	gone bool
}

// Server is the relay server transport. All backend callbacks funnel
// through one pump goroutine, so peer state needs no locking beyond the
// map guarding concurrent API calls.
type Server struct {
	cfg ServerConfig
	log *zap.Logger
	met *metrics.Metrics

	mu       sync.Mutex
	started  bool
	sink     *transport.Queue[transport.Event]
	auth     *Validator
	bySteam  map[transport.SteamID]*relayPeer
	byClient map[transport.ClientID]transport.SteamID
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewServer builds a relay server transport; Start opens the backend.
func NewServer(cfg ServerConfig) *Server {
	return &Server{cfg: cfg}
}

func (s *Server) Capabilities() transport.Capabilities { return capabilities }

// Start opens the relay backend and begins pumping its events.
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
	if err := s.cfg.Backend.Open(); err != nil {
		return err
	}

	s.started = true
	s.sink = sink
	s.auth = NewValidator(s.cfg.Backend, s.cfg.Sealer)
	s.bySteam = make(map[transport.SteamID]*relayPeer)
	s.byClient = make(map[transport.ClientID]transport.SteamID)
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.log = s.cfg.Logger.With(zap.String("transport", transportName))
	s.met = s.cfg.Metrics

	s.wg.Add(1)
	go s.pump()

	s.log.Info("relay server open")
	return nil
}

// Stop ends every auth session, closes the backend and waits for the
// pump to drain.
func (s *Server) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	auth := s.auth
	peers := make([]*relayPeer, 0, len(s.bySteam))
	for _, p := range s.bySteam {
		peers = append(peers, p)
	}
	s.cancel()
	s.mu.Unlock()

	for _, p := range peers {
		s.sayGoodbye(p.steam, transport.Graceful)
		s.cfg.Backend.ClosePeer(p.steam)
	}
	auth.Close()
	s.cfg.Backend.Close()
	s.wg.Wait()
	s.log.Info("stopped")
}

func (s *Server) Send(client transport.ClientID, msg transport.OutgoingMessage) error {
	steam, err := s.lookup(client, "send")
	if err != nil {
		return err
	}
	desc, ok := s.cfg.Registry.Descriptor(msg.Channel)
	if !ok {
		return transport.Errf(transport.KindInvalidConfig, "send", "unregistered channel %d", msg.Channel)
	}
	payload := msg.Payload
	if desc.Compress {
		payload = wire.PackPayload(payload)
	}
	buf := channelPayload(byte(msg.Channel), payload)
	if err := s.cfg.Backend.SendToPeer(steam, buf, sendFlagsFor(desc.Datagram)); err != nil {
		return &transport.Error{Kind: transport.KindIO, Op: "send", Err: err}
	}
	s.met.MessageSent(transportName, msg.Channel)
	return nil
}

func (s *Server) SendDatagram(client transport.ClientID, payload []byte) error {
	steam, err := s.lookup(client, "send-datagram")
	if err != nil {
		return err
	}
	buf := channelPayload(rawDatagramID, payload)
	if err := s.cfg.Backend.SendToPeer(steam, buf, SendUnreliable); err != nil {
		return &transport.Error{Kind: transport.KindIO, Op: "send-datagram", Err: err}
	}
	s.met.DatagramSent(transportName)
	return nil
}

func (s *Server) Disconnect(client transport.ClientID, reason transport.DisconnectReason) error {
	steam, err := s.lookup(client, "disconnect")
	if err != nil {
		return err
	}
	s.sayGoodbye(steam, reason)
	s.cfg.Backend.ClosePeer(steam)
	s.dropPeer(steam, reason)
	return nil
}

func (s *Server) lookup(client transport.ClientID, op string) (transport.SteamID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		if _, disabled := s.cfg.Backend.(Disabled); disabled {
			return 0, errDisabled(op)
		}
		return 0, transport.Errf(transport.KindNotReady, op, "transport not started")
	}
	steam, ok := s.byClient[client]
	if !ok {
		return 0, transport.Errf(transport.KindOther, op, "unknown client %d", client)
	}
	return steam, nil
}

// sayGoodbye best-effort notifies the peer of a server-initiated close so
// it reports the real reason.
func (s *Server) sayGoodbye(steam transport.SteamID, reason transport.DisconnectReason) {
	buf, err := controlPayload(ctlGoodbye, goodbyeNotice{Reason: uint8(reason)})
	if err != nil {
		return
	}
	_ = s.cfg.Backend.SendToPeer(steam, buf, SendReliable)
}

// dropPeer removes a peer and emits its disconnect event exactly once.
func (s *Server) dropPeer(steam transport.SteamID, reason transport.DisconnectReason) {
	s.mu.Lock()
	p, ok := s.bySteam[steam]
	if !ok || p.gone {
		s.mu.Unlock()
		return
	}
	p.gone = true
	delete(s.bySteam, steam)
	if p.id != 0 {
		delete(s.byClient, p.id)
	}
	s.mu.Unlock()

	s.auth.EndSession(steam)
	if p.id != 0 {
		s.met.Disconnect(transportName, reason)
		s.log.Info("peer disconnected", zap.Uint64("client", uint64(p.id)),
			zap.String("reason", reason.String()))
		s.sink.Push(transport.PeerDisconnected{Client: p.id, Reason: reason})
	}
}

// pump is the single consumer of backend events.
func (s *Server) pump() {
	defer s.wg.Done()
	events := s.cfg.Backend.Events()
	for {
		select {
		case <-s.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.handle(ev)
		}
	}
}

func (s *Server) handle(ev BackendEvent) {
	switch ev := ev.(type) {
	case PeerConnecting:
		s.mu.Lock()
		if _, exists := s.bySteam[ev.Peer]; !exists {
			s.bySteam[ev.Peer] = &relayPeer{steam: ev.Peer}
		}
		s.mu.Unlock()
	case PeerDisconnected:
		reason := transport.Graceful
		if ev.Err != nil {
			reason = transport.TransportError
		}
		s.dropPeer(ev.Peer, reason)
	case PeerPayload:
		s.handlePayload(ev.Peer, ev.Data)
	case AuthResponse:
		s.handleAuth(ev)
	}
}

func (s *Server) handlePayload(steam transport.SteamID, data []byte) {
	if len(data) == 0 {
		return
	}
	s.mu.Lock()
	p, known := s.bySteam[steam]
	s.mu.Unlock()
	if !known {
		return
	}

	switch data[0] {
	case controlID:
		if len(data) >= 2 && data[1] == ctlHello {
			s.handleHello(p, data[2:])
		}
	case rawDatagramID:
		if p.id == 0 {
			return
		}
		s.met.DatagramReceived(transportName)
		s.sink.Push(transport.PeerDatagram{Client: p.id, Payload: data[1:]})
	default:
		if p.id == 0 {
			return
		}
		ch := channel.ID(data[0])
		desc, ok := s.cfg.Registry.Descriptor(ch)
		if !ok {
			s.met.FrameError(transportName)
			return
		}
		payload := data[1:]
		if desc.Compress {
			var err error
			payload, err = wire.UnpackPayload(payload, 0)
			if err != nil {
				s.met.FrameError(transportName)
				return
			}
		}
		s.met.MessageReceived(transportName, ch)
		s.sink.Push(transport.PeerMessage{Client: p.id, Channel: ch, Payload: payload})
	}
}

func (s *Server) handleHello(p *relayPeer, body []byte) {
	var env helloEnvelope
	if err := wire.CBOR().Unmarshal(body, &env); err != nil {
		s.met.FrameError(transportName)
		s.reject(p.steam, "malformed hello")
		return
	}
	if reason, ok := env.Hello.Check(s.cfg.Registry); !ok {
		s.log.Warn("rejecting peer", zap.String("reason", reason),
			zap.Uint64("steam_id", uint64(p.steam)))
		s.reject(p.steam, reason)
		return
	}
	if p.id != 0 {
		// Repeated hello on an established session. Ignore.
		return
	}

	id := transport.NextClientID()
	reply, err := controlPayload(ctlReply, transport.ServerHello{
		Accepted: true,
		Version:  transport.ProtocolVersion,
		Client:   id,
	})
	if err != nil {
		return
	}
	if err := s.cfg.Backend.SendToPeer(p.steam, reply, SendReliable); err != nil {
		s.dropPeer(p.steam, transport.TransportError)
		return
	}

	s.mu.Lock()
	p.id = id
	s.byClient[id] = p.steam
	s.mu.Unlock()

	s.met.Connect(transportName)
	s.log.Info("peer connected", zap.Uint64("client", uint64(id)),
		zap.Uint64("steam_id", uint64(p.steam)))
	s.sink.Push(transport.PeerConnected{Client: id})

	if len(env.Ticket) > 0 {
		if err := s.auth.Begin(id, p.steam, env.Ticket); err != nil {
			s.sink.Push(transport.PeerAuthResult{Client: id, SteamID: p.steam, Err: err})
			s.notifyAuth(p.steam, authNotice{
				SteamID: p.steam,
				Result:  uint8(AuthInvalidTicket),
				Reason:  err.Error(),
			})
			_ = s.Disconnect(id, transport.AuthenticationFailed)
		}
	}
}

func (s *Server) handleAuth(r AuthResponse) {
	out, ok := s.auth.HandleResponse(r)
	if !ok {
		return
	}
	s.sink.Push(transport.PeerAuthResult{
		Client:       out.Client,
		SteamID:      out.Peer,
		OwnerSteamID: out.Owner,
		Err:          out.Err,
	})
	notice := authNotice{SteamID: out.Peer, Owner: out.Owner, Result: uint8(r.Result)}
	if out.Err != nil {
		notice.Reason = out.Err.Error()
	}
	s.notifyAuth(out.Peer, notice)
	if out.Err != nil {
		s.log.Warn("ticket validation failed", zap.Uint64("client", uint64(out.Client)),
			zap.String("verdict", r.Result.String()))
		_ = s.Disconnect(out.Client, transport.AuthenticationFailed)
	}
}

func (s *Server) notifyAuth(steam transport.SteamID, n authNotice) {
	buf, err := controlPayload(ctlAuthNotice, n)
	if err != nil {
		return
	}
	_ = s.cfg.Backend.SendToPeer(steam, buf, SendReliable)
}

// reject answers a bad hello and closes the session.
func (s *Server) reject(steam transport.SteamID, reason string) {
	buf, err := controlPayload(ctlReply, transport.ServerHello{
		Accepted: false,
		Version:  transport.ProtocolVersion,
		Reason:   reason,
	})
	if err == nil {
		_ = s.cfg.Backend.SendToPeer(steam, buf, SendReliable)
	}
	s.cfg.Backend.ClosePeer(steam)
	s.mu.Lock()
	delete(s.bySteam, steam)
	s.mu.Unlock()
}

var _ transport.ServerTransport = (*Server)(nil)
