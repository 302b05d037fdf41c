package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full broker configuration. Every field has a default, so an
// empty file, or no file at all, yields a runnable broker.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Limits LimitsConfig `yaml:"limits"`
	Log    LogConfig    `yaml:"log"`
}

// ServerConfig covers the listeners and the websocket tuning knobs.
type ServerConfig struct {
	// ListenAddr serves the endpoint websocket, the dashboard and the
	// state API.
	ListenAddr string `yaml:"listen_addr"`
	// MetricsAddr serves metrics and health probes on its own port.
	MetricsAddr string `yaml:"metrics_addr"`
	// StaticDir, when set, is served at / next to the broker surfaces.
	StaticDir string `yaml:"static_dir"`
	// WSPath is where endpoints attach and upgrade.
	WSPath string `yaml:"ws_path"`
	// TrustProxyHeaders enables X-Forwarded-For / X-Real-IP parsing when
	// the broker runs behind a reverse proxy.
	TrustProxyHeaders bool `yaml:"trust_proxy_headers"`

	MaxFrameBytes int64 `yaml:"max_frame_bytes"`
	SendBuffer    int   `yaml:"send_buffer"`
	WriteTimeout  int   `yaml:"write_timeout"`  // seconds
	PongTimeout   int   `yaml:"pong_timeout"`   // seconds
	ShutdownGrace int   `yaml:"shutdown_grace"` // seconds
	StatsInterval int   `yaml:"stats_interval"` // seconds
}

// LimitsConfig bounds connection churn per source and frame rates per
// connection. Zero leaves a limit off, which is the default.
type LimitsConfig struct {
	ConnectionsPerMinute int `yaml:"connections_per_minute"`
	MessagesPerSecond    int `yaml:"messages_per_second"`
}

// LogConfig controls log verbosity and output format.
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var c Config
	c.SetDefaults()
	c.ApplyEnvOverrides()
	return &c
}

// Load reads a configuration file and applies defaults and environment
// overrides on top.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config read failed (%s): %w", path, err)
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	c.SetDefaults()
	c.ApplyEnvOverrides()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// SetDefaults fills every unset field.
func (c *Config) SetDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8080"
	}
	if c.Server.MetricsAddr == "" {
		c.Server.MetricsAddr = ":9100"
	}
	if c.Server.WSPath == "" {
		c.Server.WSPath = "/ws"
	}
	if c.Server.MaxFrameBytes == 0 {
		c.Server.MaxFrameBytes = 64 * 1024
	}
	if c.Server.SendBuffer == 0 {
		c.Server.SendBuffer = 64
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 10
	}
	if c.Server.PongTimeout == 0 {
		c.Server.PongTimeout = 60
	}
	if c.Server.ShutdownGrace == 0 {
		c.Server.ShutdownGrace = 10
	}
	if c.Server.StatsInterval == 0 {
		c.Server.StatsInterval = 5
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// ApplyEnvOverrides applies environment variable overrides.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("MATCHBOX_LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
	if v := os.Getenv("MATCHBOX_METRICS_ADDR"); v != "" {
		c.Server.MetricsAddr = v
	}
	if v := os.Getenv("MATCHBOX_STATIC_DIR"); v != "" {
		c.Server.StaticDir = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = strings.ToLower(v)
	}
}

// Validate rejects configurations the broker cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.ListenAddr) == "" {
		return fmt.Errorf("config missing server.listen_addr")
	}
	if strings.TrimSpace(c.Server.MetricsAddr) == "" {
		return fmt.Errorf("config missing server.metrics_addr")
	}
	if c.Server.ListenAddr == c.Server.MetricsAddr {
		return fmt.Errorf("server.listen_addr and server.metrics_addr must differ")
	}
	if c.Server.MaxFrameBytes < 0 {
		return fmt.Errorf("server.max_frame_bytes must be positive")
	}
	if c.Server.SendBuffer < 0 {
		return fmt.Errorf("server.send_buffer must be positive")
	}
	if c.Limits.ConnectionsPerMinute < 0 {
		return fmt.Errorf("limits.connections_per_minute must be positive")
	}
	if c.Limits.MessagesPerSecond < 0 {
		return fmt.Errorf("limits.messages_per_second must be positive")
	}
	return nil
}

// GetWriteTimeout gets the per-frame websocket write deadline.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.Server.WriteTimeout) * time.Second
}

// GetPongTimeout gets how long a connection may stay silent before it is
// considered dead.
func (c *Config) GetPongTimeout() time.Duration {
	return time.Duration(c.Server.PongTimeout) * time.Second
}

// GetPingInterval gets the keepalive ping period, derived from the pong
// timeout so a healthy peer always answers in time.
func (c *Config) GetPingInterval() time.Duration {
	return c.GetPongTimeout() * 9 / 10
}

// GetShutdownGrace gets how long draining connections may take on shutdown.
func (c *Config) GetShutdownGrace() time.Duration {
	return time.Duration(c.Server.ShutdownGrace) * time.Second
}

// GetStatsInterval gets the gauge refresh period.
func (c *Config) GetStatsInterval() time.Duration {
	return time.Duration(c.Server.StatsInterval) * time.Second
}
