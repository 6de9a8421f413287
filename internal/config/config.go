// Package config holds the CLI configuration: defaults, an optional TOML
// file and validation. Flags override the loaded values in cmd/udpsess.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/1ureka/udpsess/internal/conn"
	"github.com/1ureka/udpsess/internal/server"
)

// Role represents the chosen side of the session.
type Role string

const (
	RoleServer Role = "server"
	RoleClient Role = "client"
)

// TransportKind selects the datagram layer.
type TransportKind string

const (
	TransportUDP    TransportKind = "udp"
	TransportWebRTC TransportKind = "webrtc"
)

// Config stores every runtime parameter.
type Config struct {
	Role      Role
	Transport TransportKind
	Addr      string // udp: listen address (server) or remote address (client)
	WS        string // webrtc: signaling listen address (server) or URL (client)

	LogLevel      string
	StatsInterval time.Duration

	ConnectTimeout time.Duration
	SendTimeout    time.Duration

	AckWait       time.Duration
	PingInterval  time.Duration
	DeadPeerAfter time.Duration
	ReapInterval  time.Duration

	AcceptRate  float64
	AcceptBurst int
	MaxPeers    int
}

// Default returns the built-in configuration: a UDP client of 127.0.0.1:9000
// with the reference protocol timing.
func Default() Config {
	cc := conn.DefaultConfig()
	sc := server.DefaultConfig()
	return Config{
		Role:           RoleClient,
		Transport:      TransportUDP,
		Addr:           "127.0.0.1:9000",
		WS:             ":0",
		LogLevel:       "info",
		StatsInterval:  10 * time.Second,
		ConnectTimeout: 5 * time.Second,
		SendTimeout:    5 * time.Second,
		AckWait:        cc.AckWait,
		PingInterval:   cc.PingInterval,
		DeadPeerAfter:  cc.DeadPeerAfter,
		ReapInterval:   sc.ReapInterval,
		AcceptRate:     sc.AcceptRate,
		AcceptBurst:    sc.AcceptBurst,
		MaxPeers:       sc.MaxPeers,
	}
}

// fileConfig is the on-disk shape. Durations are strings such as "200ms".
type fileConfig struct {
	Role           string        `toml:"role"`
	Transport      string        `toml:"transport"`
	Addr           string        `toml:"addr"`
	WS             string        `toml:"ws"`
	LogLevel       string        `toml:"log_level"`
	StatsInterval  time.Duration `toml:"stats_interval"`
	ConnectTimeout time.Duration `toml:"connect_timeout"`
	SendTimeout    time.Duration `toml:"send_timeout"`
	AckWait        time.Duration `toml:"ack_wait"`
	PingInterval   time.Duration `toml:"ping_interval"`
	DeadPeerAfter  time.Duration `toml:"dead_peer_after"`
	ReapInterval   time.Duration `toml:"reap_interval"`
	AcceptRate     float64       `toml:"accept_rate"`
	AcceptBurst    int           `toml:"accept_burst"`
	MaxPeers       int           `toml:"max_peers"`
}

// Load reads path over Default and validates the result. Keys absent from
// the file keep their defaults; unknown keys are an error.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("load config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("role") {
		cfg.Role = Role(strings.ToLower(strings.TrimSpace(raw.Role)))
	}
	if meta.IsDefined("transport") {
		cfg.Transport = TransportKind(strings.ToLower(strings.TrimSpace(raw.Transport)))
	}
	if meta.IsDefined("addr") {
		cfg.Addr = strings.TrimSpace(raw.Addr)
	}
	if meta.IsDefined("ws") {
		cfg.WS = strings.TrimSpace(raw.WS)
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("accept_rate") {
		cfg.AcceptRate = raw.AcceptRate
	}
	if meta.IsDefined("accept_burst") {
		cfg.AcceptBurst = raw.AcceptBurst
	}
	if meta.IsDefined("max_peers") {
		cfg.MaxPeers = raw.MaxPeers
	}

	durations := []struct {
		key string
		v   time.Duration
		dst *time.Duration
	}{
		{"stats_interval", raw.StatsInterval, &cfg.StatsInterval},
		{"connect_timeout", raw.ConnectTimeout, &cfg.ConnectTimeout},
		{"send_timeout", raw.SendTimeout, &cfg.SendTimeout},
		{"ack_wait", raw.AckWait, &cfg.AckWait},
		{"ping_interval", raw.PingInterval, &cfg.PingInterval},
		{"dead_peer_after", raw.DeadPeerAfter, &cfg.DeadPeerAfter},
		{"reap_interval", raw.ReapInterval, &cfg.ReapInterval},
	}
	for _, d := range durations {
		if meta.IsDefined(d.key) {
			*d.dst = d.v
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every problem found, joined.
func (c Config) Validate() error {
	var errs []error

	switch c.Role {
	case RoleServer, RoleClient:
	default:
		errs = append(errs, fmt.Errorf("role must be %q or %q, got %q", RoleServer, RoleClient, c.Role))
	}

	switch c.Transport {
	case TransportUDP:
		if c.Addr == "" {
			errs = append(errs, errors.New("addr is required for the udp transport"))
		}
	case TransportWebRTC:
		if c.Role == RoleClient && c.WS == "" {
			errs = append(errs, errors.New("ws URL is required for a webrtc client"))
		}
	default:
		errs = append(errs, fmt.Errorf("transport must be %q or %q, got %q", TransportUDP, TransportWebRTC, c.Transport))
	}

	positive := []struct {
		name string
		v    time.Duration
	}{
		{"ack_wait", c.AckWait},
		{"ping_interval", c.PingInterval},
		{"dead_peer_after", c.DeadPeerAfter},
		{"reap_interval", c.ReapInterval},
	}
	for _, p := range positive {
		if p.v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %v", p.name, p.v))
		}
	}
	if c.PingInterval > 0 && c.DeadPeerAfter > 0 && c.DeadPeerAfter <= c.PingInterval {
		errs = append(errs, fmt.Errorf("dead_peer_after (%v) must exceed ping_interval (%v)", c.DeadPeerAfter, c.PingInterval))
	}

	if c.AcceptRate < 0 {
		errs = append(errs, fmt.Errorf("accept_rate must not be negative, got %v", c.AcceptRate))
	}
	if c.MaxPeers < 0 {
		errs = append(errs, fmt.Errorf("max_peers must not be negative, got %d", c.MaxPeers))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// ConnConfig returns the client session timing.
func (c Config) ConnConfig() conn.Config {
	return conn.Config{
		AckWait:       c.AckWait,
		PingInterval:  c.PingInterval,
		DeadPeerAfter: c.DeadPeerAfter,
	}
}

// ServerConfig returns the acceptor timing and limits.
func (c Config) ServerConfig() server.Config {
	return server.Config{
		AckWait:       c.AckWait,
		DeadPeerAfter: c.DeadPeerAfter,
		ReapInterval:  c.ReapInterval,
		AcceptRate:    c.AcceptRate,
		AcceptBurst:   c.AcceptBurst,
		MaxPeers:      c.MaxPeers,
	}
}
