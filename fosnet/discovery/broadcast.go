package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fosgame/fosnet/fosnet/transport"
)

// DefaultPort is the UDP port LAN announcements go to.
const DefaultPort = 29885

// DefaultInterval is how often an announcer rebroadcasts.
const DefaultInterval = 2 * time.Second

// AnnouncerConfig configures a LAN announcer.
type AnnouncerConfig struct {
	Announcement Announcement
	// Addr is the destination address. Empty means the limited broadcast
	// address on DefaultPort.
	Addr     string
	Interval time.Duration
	Logger   *zap.Logger
}

// Announcer periodically broadcasts an announcement until stopped.
type Announcer struct {
	cfg AnnouncerConfig
	log *zap.Logger

	mu     sync.Mutex
	conn   *net.UDPConn
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewAnnouncer builds an announcer; Start begins broadcasting.
func NewAnnouncer(cfg AnnouncerConfig) *Announcer {
	if cfg.Addr == "" {
		cfg.Addr = fmt.Sprintf("255.255.255.255:%d", DefaultPort)
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Announcer{cfg: cfg, log: cfg.Logger}
}

// Start sends the first announcement immediately and then one per
// interval from a background task.
func (a *Announcer) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn != nil {
		return transport.Errf(transport.KindOther, "announce", "already started")
	}

	dst, err := net.ResolveUDPAddr("udp4", a.cfg.Addr)
	if err != nil {
		return &transport.Error{Kind: transport.KindInvalidConfig, Op: "announce", Err: err}
	}
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return &transport.Error{Kind: transport.KindIO, Op: "announce", Err: err}
	}
	payload, err := a.cfg.Announcement.Encode()
	if err != nil {
		_ = conn.Close()
		return &transport.Error{Kind: transport.KindSerialization, Op: "announce", Err: err}
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.conn = conn
	a.cancel = cancel

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ticker := time.NewTicker(a.cfg.Interval)
		defer ticker.Stop()
		for {
			if _, err := conn.WriteToUDP(payload, dst); err != nil {
				if ctx.Err() != nil {
					return
				}
				a.log.Warn("broadcast failed", zap.Error(err))
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	a.log.Info("announcing", zap.String("to", dst.String()),
		zap.Uint16("port", a.cfg.Announcement.Port))
	return nil
}

// Stop ends the broadcast task and waits for it.
func (a *Announcer) Stop() {
	a.mu.Lock()
	conn, cancel := a.conn, a.cancel
	a.conn, a.cancel = nil, nil
	a.mu.Unlock()
	if conn == nil {
		return
	}
	cancel()
	_ = conn.Close()
	a.wg.Wait()
}

// Found is one announcement heard on the LAN.
type Found struct {
	Addr         string
	Announcement Announcement
}

// ListenerConfig configures a LAN listener.
type ListenerConfig struct {
	// Addr is the UDP listen address. Empty means every interface on
	// DefaultPort.
	Addr   string
	Logger *zap.Logger
}

// Listener reads announcement datagrams and pushes Found events onto a
// queue. Foreign traffic (wrong magic) is skipped silently; corrupt
// announcements under our magic are logged.
type Listener struct {
	cfg ListenerConfig
	log *zap.Logger

	mu   sync.Mutex
	conn *net.UDPConn
	wg   sync.WaitGroup
}

// NewListener builds a listener; Start begins reading.
func NewListener(cfg ListenerConfig) *Listener {
	if cfg.Addr == "" {
		cfg.Addr = fmt.Sprintf(":%d", DefaultPort)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Listener{cfg: cfg, log: cfg.Logger}
}

// Start binds the listen address and pushes decoded announcements onto
// sink from a background task.
func (l *Listener) Start(sink *transport.Queue[Found]) error {
	if sink == nil {
		return transport.Errf(transport.KindInvalidConfig, "listen", "nil event sink")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil {
		return transport.Errf(transport.KindOther, "listen", "already started")
	}

	addr, err := net.ResolveUDPAddr("udp4", l.cfg.Addr)
	if err != nil {
		return &transport.Error{Kind: transport.KindInvalidConfig, Op: "listen", Err: err}
	}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return &transport.Error{Kind: transport.KindIO, Op: "listen", Err: err}
	}
	l.conn = conn

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		buf := make([]byte, 2048)
		for {
			n, from, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			a, err := DecodeAnnouncement(buf[:n])
			if errors.Is(err, ErrInvalidMagic) {
				continue
			}
			if err != nil {
				l.log.Warn("corrupt announcement", zap.String("from", from.String()), zap.Error(err))
				continue
			}
			sink.Push(Found{Addr: from.IP.String(), Announcement: a})
		}
	}()

	l.log.Info("listening for announcements", zap.String("addr", conn.LocalAddr().String()))
	return nil
}

// Addr returns the bound listen address ("" before Start).
func (l *Listener) Addr() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return ""
	}
	return l.conn.LocalAddr().String()
}

// Stop closes the socket and waits for the read task.
func (l *Listener) Stop() {
	l.mu.Lock()
	conn := l.conn
	l.conn = nil
	l.mu.Unlock()
	if conn == nil {
		return
	}
	_ = conn.Close()
	l.wg.Wait()
}
