// Package config loads the startup parameters the transport core consumes
// as plain values. YAML files, FOSNET_ environment overrides and defaults
// all funnel into one Config; no other package reads files or the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	TLS       TLSConfig       `mapstructure:"tls"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Log       LogConfig       `mapstructure:"log"`
}

// ServerConfig holds the listener parameters.
type ServerConfig struct {
	// Transport selects the server transport: quic, relay or loopback.
	Transport string `mapstructure:"transport"`
	// ListenAddr is the QUIC listen address.
	ListenAddr string `mapstructure:"listen_addr"`
	// Name is the server name carried in LAN announcements.
	Name            string        `mapstructure:"name"`
	MaxClients      int           `mapstructure:"max_clients"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	MaxFrameBytes   uint32        `mapstructure:"max_frame_bytes"`
	MaxDatagramSize int           `mapstructure:"max_datagram_size"`
}

// TLSConfig selects the certificate source.
type TLSConfig struct {
	// Source: self-signed or file.
	Source   string `mapstructure:"source"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// DiscoveryConfig toggles the discovery mechanisms.
type DiscoveryConfig struct {
	LAN     bool `mapstructure:"lan"`
	LANPort int  `mapstructure:"lan_port"`
	Relay   bool `mapstructure:"relay"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error.
	Level string `mapstructure:"level"`
	// Format: console or json.
	Format string `mapstructure:"format"`
	// File enables rotated file output alongside stderr when non-empty.
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// Default returns a Config populated with the standalone-server defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Transport:       "quic",
			ListenAddr:      ":27940",
			Name:            "fosnet server",
			MaxClients:      64,
			IdleTimeout:     30 * time.Second,
			MaxFrameBytes:   1 << 20,
			MaxDatagramSize: 1200,
		},
		TLS:       TLSConfig{Source: "self-signed"},
		Discovery: DiscoveryConfig{LAN: true, LANPort: 29885},
		Log: LogConfig{
			Level:      "info",
			Format:     "console",
			MaxSizeMB:  50,
			MaxBackups: 3,
		},
	}
}

// Load reads configuration from path when non-empty, otherwise searches
// the working directory for fosnet.yaml, with FOSNET_ environment
// overrides in either case (FOSNET_SERVER_LISTEN_ADDR=...). A missing
// file is not an error; defaults apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("FOSNET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.transport", cfg.Server.Transport)
	v.SetDefault("server.listen_addr", cfg.Server.ListenAddr)
	v.SetDefault("server.name", cfg.Server.Name)
	v.SetDefault("server.max_clients", cfg.Server.MaxClients)
	v.SetDefault("server.idle_timeout", cfg.Server.IdleTimeout)
	v.SetDefault("server.max_frame_bytes", cfg.Server.MaxFrameBytes)
	v.SetDefault("server.max_datagram_size", cfg.Server.MaxDatagramSize)
	v.SetDefault("tls.source", cfg.TLS.Source)
	v.SetDefault("tls.cert_file", cfg.TLS.CertFile)
	v.SetDefault("tls.key_file", cfg.TLS.KeyFile)
	v.SetDefault("discovery.lan", cfg.Discovery.LAN)
	v.SetDefault("discovery.lan_port", cfg.Discovery.LANPort)
	v.SetDefault("discovery.relay", cfg.Discovery.Relay)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.file", cfg.Log.File)
	v.SetDefault("log.max_size_mb", cfg.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", cfg.Log.MaxBackups)

	if path == "" {
		if envPath := os.Getenv("FOSNET_CONFIG"); envPath != "" {
			path = envPath
		}
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("fosnet")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Server.Transport)) {
	case "quic", "relay", "loopback":
	default:
		return fmt.Errorf("invalid server.transport: %q", c.Server.Transport)
	}
	switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}
	switch c.TLS.Source {
	case "self-signed":
	case "file":
		if c.TLS.CertFile == "" || c.TLS.KeyFile == "" {
			return errors.New("tls.source file needs tls.cert_file and tls.key_file")
		}
	default:
		return fmt.Errorf("invalid tls.source: %q", c.TLS.Source)
	}
	if c.Server.MaxClients <= 0 {
		return fmt.Errorf("invalid server.max_clients: %d", c.Server.MaxClients)
	}
	return nil
}
