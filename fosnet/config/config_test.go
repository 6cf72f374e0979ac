package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("explicit missing file should fail")
	}

	// No explicit path and no file present: defaults apply.
	wd, _ := os.Getwd()
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	defer os.Chdir(wd)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Transport != "quic" {
		t.Fatalf("transport = %q", cfg.Server.Transport)
	}
	if cfg.Server.MaxClients != 64 || cfg.Server.IdleTimeout != 30*time.Second {
		t.Fatalf("server defaults = %+v", cfg.Server)
	}
	if cfg.TLS.Source != "self-signed" {
		t.Fatalf("tls source = %q", cfg.TLS.Source)
	}
	if !cfg.Discovery.LAN || cfg.Discovery.Relay {
		t.Fatalf("discovery defaults = %+v", cfg.Discovery)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fosnet.yaml")
	body := `
server:
  transport: loopback
  listen_addr: "127.0.0.1:4000"
  max_clients: 8
  idle_timeout: 5s
log:
  level: debug
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Transport != "loopback" || cfg.Server.ListenAddr != "127.0.0.1:4000" {
		t.Fatalf("server = %+v", cfg.Server)
	}
	if cfg.Server.MaxClients != 8 || cfg.Server.IdleTimeout != 5*time.Second {
		t.Fatalf("server = %+v", cfg.Server)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("log level = %q", cfg.Log.Level)
	}
	// Untouched sections keep their defaults.
	if cfg.Server.Name == "" || cfg.TLS.Source != "self-signed" {
		t.Fatalf("defaults lost: %+v", cfg)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("FOSNET_SERVER_MAX_CLIENTS", "5")
	t.Setenv("FOSNET_LOG_LEVEL", "warn")

	wd, _ := os.Getwd()
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	defer os.Chdir(wd)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.MaxClients != 5 {
		t.Fatalf("max_clients = %d, want 5", cfg.Server.MaxClients)
	}
	if cfg.Log.Level != "warn" {
		t.Fatalf("log level = %q, want warn", cfg.Log.Level)
	}
}

func TestValidation(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"bad transport", "server:\n  transport: carrier-pigeon\n"},
		{"bad log level", "log:\n  level: shouty\n"},
		{"file tls without paths", "tls:\n  source: file\n"},
		{"bad max clients", "server:\n  max_clients: -1\n"},
	}
	for _, tc := range cases {
		path := filepath.Join(t.TempDir(), "fosnet.yaml")
		if err := os.WriteFile(path, []byte(tc.body), 0o600); err != nil {
			t.Fatalf("%s: WriteFile: %v", tc.name, err)
		}
		if _, err := Load(path); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}
