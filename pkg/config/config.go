// Package config loads the stream server configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values for the server configuration.
const (
	DefaultListen           = "127.0.0.1:8080"
	DefaultHandshakeTimeout = 5 * time.Second
	DefaultInterval         = 100 * time.Millisecond
	DefaultWriteTimeout     = 1 * time.Second
	DefaultAdmissionLimit   = 20
	DefaultAdmissionWindow  = time.Second
)

type Config struct {
	// Listen is the host:port the websocket listener binds.
	Listen string `yaml:"listen"`

	// HandshakeTimeout bounds the websocket upgrade of a new connection.
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`

	Stream    StreamConfig    `yaml:"stream"`
	Admission AdmissionConfig `yaml:"admission"`
	Status    StatusConfig    `yaml:"status"`
	Log       LogConfig       `yaml:"log"`
}

type StreamConfig struct {
	// Interval is the pause between two samples of one session.
	Interval time.Duration `yaml:"interval"`

	// WriteTimeout turns a peer that stopped reading into a send failure.
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// AdmissionConfig limits new sessions per remote host.
type AdmissionConfig struct {
	Enabled bool          `yaml:"enabled"`
	Limit   uint64        `yaml:"limit"`
	Window  time.Duration `yaml:"window"`

	// RedisURL shares the window between instances, e.g. redis://localhost:6379/0.
	// Empty keeps it in memory.
	RedisURL string `yaml:"redis_url"`
}

type StatusConfig struct {
	// Addr of the status API, empty disables it.
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads the file at path. Missing fields get defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Stream.Interval == 0 {
		c.Stream.Interval = DefaultInterval
	}
	if c.Stream.WriteTimeout == 0 {
		c.Stream.WriteTimeout = DefaultWriteTimeout
	}
	if c.Admission.Limit == 0 {
		c.Admission.Limit = DefaultAdmissionLimit
	}
	if c.Admission.Window == 0 {
		c.Admission.Window = DefaultAdmissionWindow
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

func (c *Config) Validate() error {
	var errs []error
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		errs = append(errs, fmt.Errorf("listen: %w", err))
	}
	if c.HandshakeTimeout < 0 {
		errs = append(errs, fmt.Errorf("handshake_timeout: must not be negative, got %v", c.HandshakeTimeout))
	}
	if c.Stream.Interval < 0 {
		errs = append(errs, fmt.Errorf("stream.interval: must be positive, got %v", c.Stream.Interval))
	}
	if c.Stream.WriteTimeout < 0 {
		errs = append(errs, fmt.Errorf("stream.write_timeout: must not be negative, got %v", c.Stream.WriteTimeout))
	}
	if c.Admission.Window < 0 {
		errs = append(errs, fmt.Errorf("admission.window: must be positive, got %v", c.Admission.Window))
	}
	if c.Status.Addr != "" {
		if _, _, err := net.SplitHostPort(c.Status.Addr); err != nil {
			errs = append(errs, fmt.Errorf("status.addr: %w", err))
		}
	}
	if _, err := c.Log.level(); err != nil {
		errs = append(errs, err)
	}
	if f := strings.ToLower(c.Log.Format); f != "text" && f != "json" {
		errs = append(errs, fmt.Errorf("log.format: must be text or json, got %q", c.Log.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

func (l LogConfig) level() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return lvl, nil
}

// NewLogger builds the process logger writing to w.
func (l LogConfig) NewLogger(w io.Writer) *slog.Logger {
	lvl, err := l.level()
	if err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.ToLower(l.Format) == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
