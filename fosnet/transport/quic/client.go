package quic

import (
	"context"
	"crypto/tls"
	"net"
	"strconv"
	"sync"
	"time"

	q "github.com/quic-go/quic-go"
	"go.uber.org/zap"

	"github.com/fosgame/fosnet/fosnet/channel"
	"github.com/fosgame/fosnet/fosnet/metrics"
	"github.com/fosgame/fosnet/fosnet/transport"
	"github.com/fosgame/fosnet/fosnet/wire"
)

// ClientConfig mirrors ServerConfig for the dialing side.
type ClientConfig struct {
	Registry      *channel.Registry
	SteamID       transport.SteamID
	IdleTimeout   time.Duration
	MaxFrameBytes uint32
	// TLS overrides the dialing TLS config; nil means ClientTLS().
	TLS     *tls.Config
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

// Client is the QUIC client transport. Connect returns immediately; the
// dial and hello exchange run on a background task and the outcome surfaces
// as a Connected or Disconnected event.
type Client struct {
	cfg ClientConfig
	log *zap.Logger
	met *metrics.Metrics

	mu      sync.Mutex
	state   clientState
	sink    *transport.Queue[transport.ClientEvent]
	send    *sendConn
	closing *transport.DisconnectReason
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type clientState uint8

const (
	stateIdle clientState = iota
	stateConnecting
	stateConnected
)

func NewClient(cfg ClientConfig) *Client {
	return &Client{cfg: cfg}
}

func (c *Client) Capabilities() transport.Capabilities { return capabilities }

// Connect starts connecting to a QUICTarget. Only one connection per
// Client; a finished connection leaves the Client reusable.
func (c *Client) Connect(target transport.ConnectTarget, sink *transport.Queue[transport.ClientEvent]) error {
	qt, ok := target.(transport.QUICTarget)
	if !ok {
		return transport.Errf(transport.KindInvalidConfig, "connect", "quic transport cannot dial %T", target)
	}
	if sink == nil {
		return transport.Errf(transport.KindInvalidConfig, "connect", "nil event sink")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateIdle {
		return transport.Errf(transport.KindOther, "connect", "already connecting or connected")
	}
	if err := c.cfg.fill(); err != nil {
		return err
	}
	c.state = stateConnecting
	c.sink = sink
	c.closing = nil
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.log = c.cfg.Logger.With(zap.String("transport", transportName))
	c.met = c.cfg.Metrics

	addr := net.JoinHostPort(qt.Host, strconv.Itoa(int(qt.Port)))
	c.wg.Add(1)
	go c.dial(addr)
	return nil
}

func (c *Client) dial(addr string) {
	defer c.wg.Done()

	tlsConf := c.cfg.TLS
	if tlsConf == nil {
		tlsConf = ClientTLS()
	}
	ctx, cancel := context.WithTimeout(c.ctx, handshakeTimeout)
	defer cancel()

	conn, err := q.DialAddr(ctx, addr, tlsConf, &q.Config{
		EnableDatagrams: true,
		MaxIdleTimeout:  c.cfg.IdleTimeout,
		KeepAlivePeriod: c.cfg.IdleTimeout / 2,
	})
	if err != nil {
		c.log.Warn("dial failed", zap.String("addr", addr), zap.Error(err))
		c.fail(transport.TransportError)
		return
	}

	control, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(codeGraceful, "no control stream")
		c.fail(transport.TransportError)
		return
	}
	hello := transport.NewClientHello(c.cfg.Registry, c.cfg.SteamID)
	if err := wire.WriteMessage(control, wire.CBOR(), hello); err != nil {
		_ = conn.CloseWithError(codeGraceful, "hello write failed")
		c.fail(transport.TransportError)
		return
	}
	var reply transport.ServerHello
	if err := wire.ReadMessage(control, wire.CBOR(), helloMaxFrame, &reply); err != nil {
		// The server may have closed with a protocol-mismatch code instead
		// of answering; surface that rather than an IO error.
		c.fail(reasonFromError(err))
		return
	}
	if !reply.Accepted {
		c.log.Warn("server rejected hello", zap.String("reason", reply.Reason),
			zap.Uint16("server_version", reply.Version))
		_ = conn.CloseWithError(codeProtocolMismatch, reply.Reason)
		c.fail(transport.ProtocolMismatch)
		return
	}

	c.mu.Lock()
	if c.ctx.Err() != nil {
		c.mu.Unlock()
		_ = conn.CloseWithError(codeGraceful, "canceled")
		return
	}
	c.state = stateConnected
	c.send = newSendConn(conn, c.cfg.Registry)
	sink := c.sink
	c.mu.Unlock()

	c.met.Connect(transportName)
	c.log.Info("connected", zap.String("addr", addr), zap.Uint64("client", uint64(reply.Client)))
	sink.Push(transport.Connected{Client: reply.Client})

	in := inbound{
		message: func(ch channel.ID, payload []byte) {
			c.met.MessageReceived(transportName, ch)
			sink.Push(transport.Message{Channel: ch, Payload: payload})
		},
		datagram: func(payload []byte) {
			c.met.DatagramReceived(transportName)
			sink.Push(transport.Datagram{Payload: payload})
		},
		decodeErr: func(err error) {
			c.met.FrameError(transportName)
			sink.Push(transport.ClientError{Err: err})
		},
	}
	c.wg.Add(2)
	go func() { defer c.wg.Done(); readUniStreams(c.ctx, conn, c.cfg.Registry, c.cfg.MaxFrameBytes, in) }()
	go func() { defer c.wg.Done(); readDatagrams(c.ctx, conn, c.cfg.Registry, in) }()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		<-conn.Context().Done()
		reason := reasonFromError(context.Cause(conn.Context()))
		c.finish(reason)
	}()
}

// fail reports a connection attempt that never reached Connected.
func (c *Client) fail(reason transport.DisconnectReason) {
	c.finish(reason)
}

// finish resets the client and emits the Disconnected event exactly once
// per connection attempt.
func (c *Client) finish(reason transport.DisconnectReason) {
	c.mu.Lock()
	if c.state == stateIdle {
		c.mu.Unlock()
		return
	}
	if c.closing != nil {
		reason = *c.closing
	}
	c.state = stateIdle
	c.send = nil
	sink := c.sink
	cancel := c.cancel
	c.mu.Unlock()

	cancel()
	c.met.Disconnect(transportName, reason)
	c.log.Info("disconnected", zap.String("reason", reason.String()))
	sink.Push(transport.Disconnected{Reason: reason})
}

// Disconnect closes the connection (or abandons the attempt) with reason.
func (c *Client) Disconnect(reason transport.DisconnectReason) error {
	c.mu.Lock()
	if c.state == stateIdle {
		c.mu.Unlock()
		return transport.Errf(transport.KindNotReady, "disconnect", "not connected")
	}
	r := reason
	c.closing = &r
	send := c.send
	cancel := c.cancel
	c.mu.Unlock()

	if send != nil {
		// The connection watcher picks up the close and emits the event.
		_ = send.conn.CloseWithError(closeCode(reason), reason.String())
	} else {
		cancel()
	}
	return nil
}

func (c *Client) Send(msg transport.OutgoingMessage) error {
	send, err := c.sender("send")
	if err != nil {
		return err
	}
	if err := send.send(msg); err != nil {
		return err
	}
	c.met.MessageSent(transportName, msg.Channel)
	return nil
}

func (c *Client) SendDatagram(payload []byte) error {
	send, err := c.sender("send-datagram")
	if err != nil {
		return err
	}
	if err := send.sendDatagram(rawDatagramID, payload); err != nil {
		return err
	}
	c.met.DatagramSent(transportName)
	return nil
}

func (c *Client) sender(op string) (*sendConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateConnected {
		return nil, transport.Errf(transport.KindNotReady, op, "not connected")
	}
	return c.send, nil
}

// Wait blocks until all background tasks exit. Test helper; gameplay code
// has no reason to call it.
func (c *Client) Wait() { c.wg.Wait() }

var _ transport.ClientTransport = (*Client)(nil)
