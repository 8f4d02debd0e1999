package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/agentping/relay/internal/session"
)

const (
	DefaultPort = 8765
	DefaultHost = "0.0.0.0"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Relay   RelayConfig   `yaml:"relay"`
	Origin  OriginConfig  `yaml:"origin"`
	Privacy PrivacyConfig `yaml:"privacy"`
	Notify  NotifyConfig  `yaml:"notify"`
	Log     LogConfig     `yaml:"log"`
}

type ServerConfig struct {
	Port           int    `yaml:"port"`
	Host           string `yaml:"host"`
	AuthToken      string `yaml:"auth_token"`
	MaxConnections int    `yaml:"max_connections"`
}

type RelayConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	HandshakeTimeout  time.Duration `yaml:"handshake_timeout"`
	CommandTimeout    time.Duration `yaml:"command_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	SessionGrace      time.Duration `yaml:"session_grace"`
	SweepInterval     time.Duration `yaml:"sweep_interval"`
	ViewerQueueSize   int           `yaml:"viewer_queue_size"`
	EmitterQueueSize  int           `yaml:"emitter_queue_size"`
	HistorySize       int           `yaml:"history_size"`
	MessagesPerSecond float64       `yaml:"messages_per_second"`
	MessageBurst      int           `yaml:"message_burst"`
}

type OriginConfig struct {
	AllowedPrefixes []string `yaml:"allowed_prefixes"`
}

type PrivacyConfig struct {
	MaskWorkingDirs bool     `yaml:"mask_working_dirs"`
	AllowedPaths    []string `yaml:"allowed_paths"`
	BlockedPaths    []string `yaml:"blocked_paths"`
}

type NotifyConfig struct {
	Ntfy NtfyConfig `yaml:"ntfy"`
}

type NtfyConfig struct {
	Topic string `yaml:"topic"`
	Token string `yaml:"token"`
	// MinUrgency is "normal" or "urgent"; empty means "urgent".
	MinUrgency string `yaml:"min_urgency"`
}

// MinUrgencyName returns the configured minimum urgency, or "urgent" when
// none is set.
func (n NtfyConfig) MinUrgencyName() string {
	if strings.TrimSpace(n.MinUrgency) == "" {
		return "urgent"
	}
	return n.MinUrgency
}

type LogConfig struct {
	Level string `yaml:"level"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           DefaultPort,
			Host:           DefaultHost,
			MaxConnections: 256,
		},
		Relay: RelayConfig{
			HeartbeatInterval: 15 * time.Second,
			HandshakeTimeout:  5 * time.Second,
			CommandTimeout:    3 * time.Second,
			WriteTimeout:      10 * time.Second,
			SessionGrace:      2 * time.Minute,
			SweepInterval:     30 * time.Second,
			ViewerQueueSize:   64,
			EmitterQueueSize:  16,
			HistorySize:       50,
			MessagesPerSecond: 20,
			MessageBurst:      40,
		},
		Origin: OriginConfig{
			AllowedPrefixes: []string{"100.64.0.0/10", "fd7a:115c:a1e0::/48"},
		},
		Notify: NotifyConfig{
			Ntfy: NtfyConfig{MinUrgency: "urgent"},
		},
		Log: LogConfig{Level: "info"},
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	return defaultConfig()
}

// Load reads a YAML config file on top of the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault is Load, except a missing file yields the defaults.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return defaultConfig(), nil
	}
	return cfg, err
}

// Validate rejects settings the relay cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	positive := map[string]time.Duration{
		"relay.heartbeat_interval": c.Relay.HeartbeatInterval,
		"relay.handshake_timeout":  c.Relay.HandshakeTimeout,
		"relay.command_timeout":    c.Relay.CommandTimeout,
		"relay.write_timeout":      c.Relay.WriteTimeout,
		"relay.sweep_interval":     c.Relay.SweepInterval,
	}
	for name, d := range positive {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	// Command delivery must give up before a viewer counts as silent.
	if hb := c.Relay.HeartbeatInterval; hb > 0 && c.Relay.CommandTimeout >= 2*hb {
		errs = append(errs, fmt.Errorf("relay.command_timeout %s must be shorter than twice relay.heartbeat_interval (%s)", c.Relay.CommandTimeout, 2*hb))
	}
	if c.Relay.SessionGrace < 0 {
		errs = append(errs, errors.New("relay.session_grace must not be negative"))
	}
	if c.Relay.ViewerQueueSize < 1 {
		errs = append(errs, errors.New("relay.viewer_queue_size must be at least 1"))
	}
	if c.Relay.EmitterQueueSize < 1 {
		errs = append(errs, errors.New("relay.emitter_queue_size must be at least 1"))
	}
	if c.Relay.MessagesPerSecond < 0 || c.Relay.MessageBurst < 0 {
		errs = append(errs, errors.New("relay message rate must not be negative"))
	}
	switch strings.ToLower(strings.TrimSpace(c.Notify.Ntfy.MinUrgency)) {
	case "", "normal", "urgent":
	default:
		errs = append(errs, fmt.Errorf("notify.ntfy.min_urgency %q must be normal or urgent", c.Notify.Ntfy.MinUrgency))
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// NewPrivacyFilter builds the viewer-facing filter from the privacy section.
func NewPrivacyFilter(pc PrivacyConfig) *session.PrivacyFilter {
	return &session.PrivacyFilter{
		MaskWorkingDirs: pc.MaskWorkingDirs,
		AllowedPaths:    pc.AllowedPaths,
		BlockedPaths:    pc.BlockedPaths,
	}
}

// ParseLevel maps a config level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log.level: %w", err)
	}
	return l, nil
}

// GenerateToken returns a random hex token suitable for server.auth_token.
func GenerateToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
