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

// ClientConfig carries the relay client transport's parameters.
type ClientConfig struct {
	Registry *channel.Registry
	Backend  Backend
	SteamID  transport.SteamID
	// Ticket is the sealed auth ticket presented in the hello. Empty skips
	// ticket validation.
	Ticket  []byte
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

func (c *ClientConfig) fill() error {
	if c.Registry == nil {
		return transport.Errf(transport.KindInvalidConfig, "connect", "nil channel registry")
	}
	if err := checkRegistry(c.Registry, "connect"); err != nil {
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

type clientState uint8

const (
	stateIdle clientState = iota
	stateConnecting
	stateConnected
)

// Client is the relay client transport.
type Client struct {
	cfg ClientConfig
	log *zap.Logger
	met *metrics.Metrics

	mu    sync.Mutex
	state clientState
	host  transport.SteamID
	sink  *transport.Queue[transport.ClientEvent]
	// closing records a locally initiated disconnect reason so finish
	// reports it instead of what the backend saw.
	closing *transport.DisconnectReason
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewClient builds a relay client transport; Connect opens the backend.
func NewClient(cfg ClientConfig) *Client {
	return &Client{cfg: cfg}
}

func (c *Client) Capabilities() transport.Capabilities { return capabilities }

// Connect joins the target lobby and starts the handshake. The final
// Connected or Disconnected surfaces on sink.
func (c *Client) Connect(target transport.ConnectTarget, sink *transport.Queue[transport.ClientEvent]) error {
	rt, ok := target.(transport.RelayTarget)
	if !ok {
		return transport.Errf(transport.KindInvalidConfig, "connect", "relay transport needs a relay target")
	}
	if sink == nil {
		return transport.Errf(transport.KindInvalidConfig, "connect", "nil event sink")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateIdle {
		return transport.Errf(transport.KindOther, "connect", "already connecting")
	}
	if err := c.cfg.fill(); err != nil {
		return err
	}
	if err := c.cfg.Backend.Open(); err != nil {
		return err
	}
	host, err := c.cfg.Backend.JoinLobby(rt.Lobby)
	if err != nil {
		c.cfg.Backend.Close()
		return err
	}

	c.state = stateConnecting
	c.host = host
	c.sink = sink
	c.closing = nil
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.log = c.cfg.Logger.With(zap.String("transport", transportName))
	c.met = c.cfg.Metrics

	hello, err := controlPayload(ctlHello, helloEnvelope{
		Hello:  transport.NewClientHello(c.cfg.Registry, c.cfg.SteamID),
		Ticket: c.cfg.Ticket,
	})
	if err != nil {
		c.resetLocked()
		return err
	}
	if err := c.cfg.Backend.SendToPeer(host, hello, SendReliable); err != nil {
		c.resetLocked()
		return &transport.Error{Kind: transport.KindIO, Op: "connect", Err: err}
	}

	c.wg.Add(1)
	go c.pump()
	c.log.Info("joining lobby", zap.Uint64("lobby", uint64(rt.Lobby)),
		zap.Uint64("host", uint64(host)))
	return nil
}

// Disconnect tears the session down. The Disconnected event surfaces on
// the sink.
func (c *Client) Disconnect(reason transport.DisconnectReason) error {
	c.mu.Lock()
	if c.state == stateIdle {
		c.mu.Unlock()
		return transport.Errf(transport.KindNotReady, "disconnect", "not connected")
	}
	if c.closing == nil {
		r := reason
		c.closing = &r
	}
	host := c.host
	c.mu.Unlock()

	c.cfg.Backend.ClosePeer(host)
	c.finish(reason)
	return nil
}

func (c *Client) Send(msg transport.OutgoingMessage) error {
	host, err := c.session("send")
	if err != nil {
		return err
	}
	desc, ok := c.cfg.Registry.Descriptor(msg.Channel)
	if !ok {
		return transport.Errf(transport.KindInvalidConfig, "send", "unregistered channel %d", msg.Channel)
	}
	payload := msg.Payload
	if desc.Compress {
		payload = wire.PackPayload(payload)
	}
	buf := channelPayload(byte(msg.Channel), payload)
	if err := c.cfg.Backend.SendToPeer(host, buf, sendFlagsFor(desc.Datagram)); err != nil {
		return &transport.Error{Kind: transport.KindIO, Op: "send", Err: err}
	}
	c.met.MessageSent(transportName, msg.Channel)
	return nil
}

func (c *Client) SendDatagram(payload []byte) error {
	host, err := c.session("send-datagram")
	if err != nil {
		return err
	}
	buf := channelPayload(rawDatagramID, payload)
	if err := c.cfg.Backend.SendToPeer(host, buf, SendUnreliable); err != nil {
		return &transport.Error{Kind: transport.KindIO, Op: "send-datagram", Err: err}
	}
	c.met.DatagramSent(transportName)
	return nil
}

func (c *Client) session(op string) (transport.SteamID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateConnected {
		if _, disabled := c.cfg.Backend.(Disabled); disabled && c.state == stateIdle {
			return 0, errDisabled(op)
		}
		return 0, transport.Errf(transport.KindNotReady, op, "not connected")
	}
	return c.host, nil
}

// finish emits the Disconnected event exactly once per connection attempt
// and resets the client for reuse.
func (c *Client) finish(reason transport.DisconnectReason) {
	c.mu.Lock()
	if c.state == stateIdle {
		c.mu.Unlock()
		return
	}
	if c.closing != nil {
		reason = *c.closing
	}
	sink := c.sink
	c.resetLocked()
	c.mu.Unlock()

	c.met.Disconnect(transportName, reason)
	c.log.Info("disconnected", zap.String("reason", reason.String()))
	sink.Push(transport.Disconnected{Reason: reason})
}

// resetLocked returns to idle; callers hold c.mu.
func (c *Client) resetLocked() {
	c.state = stateIdle
	c.host = 0
	c.sink = nil
	if c.cancel != nil {
		c.cancel()
	}
	c.cfg.Backend.Close()
}

// Wait blocks until the pump exits. Test helper.
func (c *Client) Wait() { c.wg.Wait() }

func (c *Client) pump() {
	defer c.wg.Done()
	c.mu.Lock()
	ctx, events, host := c.ctx, c.cfg.Backend.Events(), c.host
	c.mu.Unlock()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				c.finish(transport.TransportError)
				return
			}
			if done := c.handle(ev, host); done {
				return
			}
		}
	}
}

// handle processes one backend event; true means the session ended.
func (c *Client) handle(ev BackendEvent, host transport.SteamID) bool {
	switch ev := ev.(type) {
	case PeerDisconnected:
		if ev.Peer != host {
			return false
		}
		reason := transport.Graceful
		if ev.Err != nil {
			reason = transport.TransportError
		}
		c.finish(reason)
		return true
	case PeerPayload:
		if ev.Peer != host {
			return false
		}
		return c.handlePayload(ev.Data)
	}
	return false
}

func (c *Client) handlePayload(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	switch data[0] {
	case controlID:
		if len(data) < 2 {
			return false
		}
		return c.handleControl(data[1], data[2:])
	case rawDatagramID:
		if sink := c.connectedSink(); sink != nil {
			c.met.DatagramReceived(transportName)
			sink.Push(transport.Datagram{Payload: data[1:]})
		}
	default:
		ch := channel.ID(data[0])
		desc, ok := c.cfg.Registry.Descriptor(ch)
		if !ok {
			c.met.FrameError(transportName)
			return false
		}
		payload := data[1:]
		if desc.Compress {
			var err error
			payload, err = wire.UnpackPayload(payload, 0)
			if err != nil {
				c.met.FrameError(transportName)
				return false
			}
		}
		if sink := c.connectedSink(); sink != nil {
			c.met.MessageReceived(transportName, ch)
			sink.Push(transport.Message{Channel: ch, Payload: payload})
		}
	}
	return false
}

func (c *Client) handleControl(kind byte, body []byte) bool {
	switch kind {
	case ctlReply:
		var reply transport.ServerHello
		if err := wire.CBOR().Unmarshal(body, &reply); err != nil {
			c.met.FrameError(transportName)
			c.finish(transport.TransportError)
			return true
		}
		if !reply.Accepted {
			c.log.Warn("rejected by server", zap.String("reason", reply.Reason))
			c.finish(transport.ProtocolMismatch)
			return true
		}
		c.mu.Lock()
		if c.state != stateConnecting {
			c.mu.Unlock()
			return false
		}
		c.state = stateConnected
		sink := c.sink
		c.mu.Unlock()
		c.met.Connect(transportName)
		c.log.Info("connected", zap.Uint64("client", uint64(reply.Client)))
		sink.Push(transport.Connected{Client: reply.Client})
	case ctlAuthNotice:
		var n authNotice
		if err := wire.CBOR().Unmarshal(body, &n); err != nil {
			c.met.FrameError(transportName)
			return false
		}
		res := transport.AuthResult{SteamID: n.SteamID, OwnerSteamID: n.Owner}
		if !AuthResult(n.Result).ok() {
			res.Err = transport.Errf(transport.KindAuthValidation, "auth", "%s", n.Reason)
		}
		if sink := c.anySink(); sink != nil {
			sink.Push(res)
		}
	case ctlGoodbye:
		var g goodbyeNotice
		reason := transport.Graceful
		if err := wire.CBOR().Unmarshal(body, &g); err == nil {
			reason = transport.DisconnectReasonFromWire(g.Reason)
		}
		c.finish(reason)
		return true
	}
	return false
}

func (c *Client) connectedSink() *transport.Queue[transport.ClientEvent] {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateConnected {
		return nil
	}
	return c.sink
}

func (c *Client) anySink() *transport.Queue[transport.ClientEvent] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sink
}

var _ transport.ClientTransport = (*Client)(nil)
