package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	apperrors "github.com/omochice/roster-chat/internal/errors"
)

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error = %v", err)
	}
	if cfg.Server.Port != 2019 {
		t.Errorf("Server.Port = %d, want 2019", cfg.Server.Port)
	}
	if cfg.Server.Address() != ":2019" {
		t.Errorf("Server.Address() = %q, want %q", cfg.Server.Address(), ":2019")
	}
	if cfg.Client.Address() != "127.0.0.1:2019" {
		t.Errorf("Client.Address() = %q, want %q", cfg.Client.Address(), "127.0.0.1:2019")
	}
	if cfg.Server.ReadTimeout != 0 {
		t.Errorf("Server.ReadTimeout = %v, want 0 so idle clients stay", cfg.Server.ReadTimeout)
	}
	if cfg.Client.Keepalive != 30*time.Second {
		t.Errorf("Client.Keepalive = %v, want 30s", cfg.Client.Keepalive)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default().Validate() error = %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err == nil {
		t.Fatal("Load() error = nil, want error for missing file")
	}
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roster.toml")
	content := `
[server]
bind_address = "127.0.0.1"
port = 4040
operator = "admin"
read_timeout = "30s"

[client]
username = "Alice"
transport = "ws"

[rate_limit]
commands_per_second = 5.0
burst = 10

[logging]
level = "debug"
encoding = "json"

[journal]
path = "/tmp/roster.db"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Address() != "127.0.0.1:4040" {
		t.Errorf("Server.Address() = %q", cfg.Server.Address())
	}
	if cfg.Server.Operator != "admin" {
		t.Errorf("Server.Operator = %q, want admin", cfg.Server.Operator)
	}
	if cfg.Server.ReadTimeout != 30*time.Second {
		t.Errorf("Server.ReadTimeout = %v, want 30s", cfg.Server.ReadTimeout)
	}
	// Unset keys keep their defaults.
	if cfg.Server.SendQueue != 16 {
		t.Errorf("Server.SendQueue = %d, want default 16", cfg.Server.SendQueue)
	}
	if cfg.Client.URL() != "ws://127.0.0.1:2019/ws" {
		t.Errorf("Client.URL() = %q", cfg.Client.URL())
	}
	if cfg.RateLimit.Burst != 10 {
		t.Errorf("RateLimit.Burst = %d, want 10", cfg.RateLimit.Burst)
	}
	if cfg.Logging.Encoding != "json" {
		t.Errorf("Logging.Encoding = %q, want json", cfg.Logging.Encoding)
	}
	if cfg.Journal.Path != "/tmp/roster.db" {
		t.Errorf("Journal.Path = %q", cfg.Journal.Path)
	}
}

func TestLoad_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roster.yaml")
	content := `
server:
  port: 5050
  websocket: false
  write_timeout: 2s
client:
  username: Bob
logging:
  level: warn
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 5050 || cfg.Server.WebSocket {
		t.Errorf("Server = %+v, want port 5050 without websocket", cfg.Server)
	}
	if cfg.Server.WriteTimeout != 2*time.Second {
		t.Errorf("Server.WriteTimeout = %v, want 2s", cfg.Server.WriteTimeout)
	}
	if cfg.Client.Username != "Bob" {
		t.Errorf("Client.Username = %q, want Bob", cfg.Client.Username)
	}
	if cfg.Logging.Level != "warn" || cfg.Logging.Encoding != "console" {
		t.Errorf("Logging = %+v, want warn level with default encoding", cfg.Logging)
	}
}

func TestLoad_ParseError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte("[server\nport = "), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("Load() error = nil, want parse error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "port out of range", mutate: func(c *Config) { c.Server.Port = 70000 }},
		{name: "zero send queue", mutate: func(c *Config) { c.Server.SendQueue = 0 }},
		{name: "negative read timeout", mutate: func(c *Config) { c.Server.ReadTimeout = -time.Second }},
		{name: "unknown transport", mutate: func(c *Config) { c.Client.Transport = "udp" }},
		{name: "negative keepalive", mutate: func(c *Config) { c.Client.Keepalive = -time.Second }},
		{name: "zero handshake timeout", mutate: func(c *Config) { c.Client.HandshakeTimeout = 0 }},
		{name: "rate without burst", mutate: func(c *Config) { c.RateLimit.Burst = 0 }},
		{name: "unknown encoding", mutate: func(c *Config) { c.Logging.Encoding = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if !apperrors.IsCode(err, apperrors.CodeConfigInvalid) {
				t.Errorf("Validate() error = %v, want code %s", err, apperrors.CodeConfigInvalid)
			}
		})
	}
}
