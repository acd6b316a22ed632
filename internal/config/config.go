// Package config provides TOML configuration loading for the roster server
// and client binaries. CLI flags always take precedence over file values;
// the binaries apply them after Load.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	apperrors "github.com/omochice/roster-chat/internal/errors"
)

// Config represents the configuration file structure.
type Config struct {
	Server    ServerConfig    `toml:"server" yaml:"server"`
	Client    ClientConfig    `toml:"client" yaml:"client"`
	RateLimit RateLimitConfig `toml:"rate_limit" yaml:"rate_limit"`
	Logging   LoggingConfig   `toml:"logging" yaml:"logging"`
	Journal   JournalConfig   `toml:"journal" yaml:"journal"`
}

// ServerConfig controls the listening side.
type ServerConfig struct {
	BindAddress  string        `toml:"bind_address" yaml:"bind_address"`   // empty = any interface
	Port         int           `toml:"port" yaml:"port"`                   // default 2019
	Operator     string        `toml:"operator" yaml:"operator"`           // account of the person running the server
	WebSocket    bool          `toml:"websocket" yaml:"websocket"`         // accept WebSocket upgrades on the same port
	ReadTimeout  time.Duration `toml:"read_timeout" yaml:"read_timeout"`   // idle limit per connection, 0 disables
	WriteTimeout time.Duration `toml:"write_timeout" yaml:"write_timeout"` // per-frame write limit, 0 disables
	SendQueue    int           `toml:"send_queue" yaml:"send_queue"`       // frames buffered per connection
}

// ClientConfig controls how the client reaches the server.
type ClientConfig struct {
	Host             string        `toml:"host" yaml:"host"`
	Port             int           `toml:"port" yaml:"port"`
	Username         string        `toml:"username" yaml:"username"`
	Transport        string        `toml:"transport" yaml:"transport"` // "tcp" or "ws"
	HandshakeTimeout time.Duration `toml:"handshake_timeout" yaml:"handshake_timeout"`
	Keepalive        time.Duration `toml:"keepalive" yaml:"keepalive"` // empty frame sent while idle, 0 disables
}

// RateLimitConfig bounds how many commands one connection may issue.
type RateLimitConfig struct {
	CommandsPerSecond float64 `toml:"commands_per_second" yaml:"commands_per_second"` // 0 disables
	Burst             int     `toml:"burst" yaml:"burst"`
}

// LoggingConfig selects the zap logger flavour.
type LoggingConfig struct {
	Level    string `toml:"level" yaml:"level"`       // debug, info, warn, error
	Encoding string `toml:"encoding" yaml:"encoding"` // json or console
}

// JournalConfig points at the optional presence journal.
type JournalConfig struct {
	Path string `toml:"path" yaml:"path"` // empty disables the journal
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:         2019,
			WebSocket:    true,
			WriteTimeout: 10 * time.Second,
			SendQueue:    16,
		},
		Client: ClientConfig{
			Host:             "127.0.0.1",
			Port:             2019,
			Transport:        "tcp",
			HandshakeTimeout: 5 * time.Second,
			Keepalive:        30 * time.Second,
		},
		RateLimit: RateLimitConfig{
			CommandsPerSecond: 20,
			Burst:             40,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Encoding: "console",
		},
	}
}

// Load reads a config file on top of Default. Files ending in .yaml or
// .yml are decoded as YAML, everything else as TOML.
//
// Behavior:
//   - If path is empty, returns Default without error.
//   - If path is specified, returns an error if the file doesn't exist.
//   - Returns an error if the file cannot be parsed or fails validation.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, fmt.Errorf("config file not found: %s", path)
	}

	if err := decodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return yaml.Unmarshal(data, cfg)
	default:
		_, err := toml.DecodeFile(path, cfg)
		return err
	}
}

// Validate checks value ranges.
func (c Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return apperrors.ConfigInvalid("server.port", "must be between 0 and 65535")
	}
	if c.Server.ReadTimeout < 0 {
		return apperrors.ConfigInvalid("server.read_timeout", "must not be negative")
	}
	if c.Server.WriteTimeout < 0 {
		return apperrors.ConfigInvalid("server.write_timeout", "must not be negative")
	}
	if c.Server.SendQueue < 1 {
		return apperrors.ConfigInvalid("server.send_queue", "must be at least 1")
	}
	if c.Client.Port < 1 || c.Client.Port > 65535 {
		return apperrors.ConfigInvalid("client.port", "must be between 1 and 65535")
	}
	if c.Client.Transport != "tcp" && c.Client.Transport != "ws" {
		return apperrors.ConfigInvalid("client.transport", `must be "tcp" or "ws"`)
	}
	if c.Client.HandshakeTimeout <= 0 {
		return apperrors.ConfigInvalid("client.handshake_timeout", "must be positive")
	}
	if c.Client.Keepalive < 0 {
		return apperrors.ConfigInvalid("client.keepalive", "must not be negative")
	}
	if c.RateLimit.CommandsPerSecond < 0 {
		return apperrors.ConfigInvalid("rate_limit.commands_per_second", "must not be negative")
	}
	if c.RateLimit.CommandsPerSecond > 0 && c.RateLimit.Burst < 1 {
		return apperrors.ConfigInvalid("rate_limit.burst", "must be at least 1 when rate limiting is enabled")
	}
	if c.Logging.Encoding != "json" && c.Logging.Encoding != "console" {
		return apperrors.ConfigInvalid("logging.encoding", `must be "json" or "console"`)
	}
	return nil
}

// Address returns the host:port the server listens on.
func (s ServerConfig) Address() string {
	return net.JoinHostPort(s.BindAddress, strconv.Itoa(s.Port))
}

// Address returns the host:port the client dials.
func (c ClientConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// URL returns the WebSocket URL the client dials when Transport is "ws".
func (c ClientConfig) URL() string {
	return "ws://" + c.Address() + "/ws"
}
