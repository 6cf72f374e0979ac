// Package fosnet provides the game network transport core: a uniform
// client/server transport abstraction with QUIC, relay and in-process
// loopback implementations, a length-prefixed frame codec, channel
// registry negotiation, LAN/relay discovery and relay ticket
// authentication.
//
// The functions here pick a concrete transport from configuration so
// gameplay code stays transport-agnostic; everything they return is also
// constructible directly from the subpackages.
package fosnet

import (
	"crypto/tls"
	"fmt"

	"go.uber.org/zap"

	"github.com/fosgame/fosnet/fosnet/channel"
	"github.com/fosgame/fosnet/fosnet/config"
	"github.com/fosgame/fosnet/fosnet/metrics"
	"github.com/fosgame/fosnet/fosnet/transport"
	"github.com/fosgame/fosnet/fosnet/transport/loopback"
	"github.com/fosgame/fosnet/fosnet/transport/quic"
	"github.com/fosgame/fosnet/fosnet/transport/relay"
)

// Options carries the cross-transport dependencies the constructors wire
// into whichever transport the config selects.
type Options struct {
	// Registry defaults to channel.Default().
	Registry *channel.Registry
	// RelayBackend is used when the config selects the relay transport.
	// Nil means relay operations report Disabled.
	RelayBackend relay.Backend
	// TicketSealer verifies relay auth tickets server-side and is unused
	// by the other transports.
	TicketSealer *relay.TicketSealer
	// SteamID is the client's claimed identity for the hello.
	SteamID transport.SteamID
	// Ticket is the sealed auth ticket a relay client presents.
	Ticket  []byte
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

func (o *Options) registry() *channel.Registry {
	if o.Registry == nil {
		return channel.Default()
	}
	return o.Registry
}

// NewServer builds the server transport the configuration selects. For
// loopback it returns the server half of a fresh pair; use
// loopback.NewPair directly when the client half is needed too.
func NewServer(cfg *config.Config, opts Options) (transport.ServerTransport, error) {
	switch cfg.Server.Transport {
	case "quic":
		tlsConf, err := serverTLS(cfg.TLS)
		if err != nil {
			return nil, err
		}
		return quic.NewServer(quic.ServerConfig{
			ListenAddr:    cfg.Server.ListenAddr,
			Registry:      opts.registry(),
			MaxClients:    cfg.Server.MaxClients,
			IdleTimeout:   cfg.Server.IdleTimeout,
			MaxFrameBytes: cfg.Server.MaxFrameBytes,
			TLS:           tlsConf,
			Logger:        opts.Logger,
			Metrics:       opts.Metrics,
		}), nil
	case "relay":
		return relay.NewServer(relay.ServerConfig{
			Registry: opts.registry(),
			Backend:  opts.RelayBackend,
			Sealer:   opts.TicketSealer,
			Logger:   opts.Logger,
			Metrics:  opts.Metrics,
		}), nil
	case "loopback":
		_, srv := loopback.NewPair()
		return srv, nil
	default:
		return nil, fmt.Errorf("fosnet: unknown transport %q", cfg.Server.Transport)
	}
}

// NewClient builds the client transport matching target's addressing
// mode. Loopback clients come from loopback.NewPair, never from here.
func NewClient(target transport.ConnectTarget, opts Options) (transport.ClientTransport, error) {
	switch target.(type) {
	case transport.QUICTarget:
		return quic.NewClient(quic.ClientConfig{
			Registry: opts.registry(),
			SteamID:  opts.SteamID,
			Logger:   opts.Logger,
			Metrics:  opts.Metrics,
		}), nil
	case transport.RelayTarget:
		return relay.NewClient(relay.ClientConfig{
			Registry: opts.registry(),
			Backend:  opts.RelayBackend,
			SteamID:  opts.SteamID,
			Ticket:   opts.Ticket,
			Logger:   opts.Logger,
			Metrics:  opts.Metrics,
		}), nil
	default:
		return nil, fmt.Errorf("fosnet: no client transport for target %T", target)
	}
}

func serverTLS(c config.TLSConfig) (*tls.Config, error) {
	switch c.Source {
	case "file":
		return quic.FileTLS(c.CertFile, c.KeyFile)
	default:
		// Self-signed is generated lazily by the QUIC server on Start.
		return nil, nil
	}
}
