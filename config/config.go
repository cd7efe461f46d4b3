// Package config loads and validates YAML configuration for the
// streamcast server and client binaries. Every field has a working
// default so an empty file, or no file at all, yields a runnable
// configuration.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// MetricsConfig controls the optional Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	Path    string `yaml:"path"`
}

// ServerConfig configures the streaming server.
type ServerConfig struct {
	// VideoListen is the UDP bind address for video delivery.
	VideoListen string `yaml:"video_listen"`
	// ControlListen is the TCP bind address for the control channel.
	ControlListen string `yaml:"control_listen"`

	// ChunkDir is the root of pre-encoded chunk storage, one
	// subdirectory per quality level. Empty selects an in-memory
	// source provided by the caller.
	ChunkDir string `yaml:"chunk_dir"`

	// FrameRate is the source media frame rate.
	FrameRate float64 `yaml:"frame_rate"`
	// MaxFrameRate caps the delivery cadence for network efficiency.
	MaxFrameRate float64 `yaml:"max_frame_rate"`
	// ChunkDurationSeconds is the fixed duration of each chunk.
	ChunkDurationSeconds float64 `yaml:"chunk_duration_seconds"`

	// MaxPacketSize bounds outgoing datagrams.
	MaxPacketSize int `yaml:"max_packet_size"`
	// InitialLevel is the quality level new sessions start at.
	InitialLevel string `yaml:"initial_level"`

	LogLevel string        `yaml:"log_level"`
	Metrics  MetricsConfig `yaml:"metrics"`
}

// ClientConfig configures the streaming client.
type ClientConfig struct {
	// ServerAddr is the host:port of the server's control channel.
	ServerAddr string `yaml:"server_addr"`
	// VideoListen is the local UDP bind address for video reception.
	VideoListen string `yaml:"video_listen"`

	// InitialLevel is the quality level to start at.
	InitialLevel string `yaml:"initial_level"`

	// CooldownSeconds is the minimum spacing between adaptation-driven
	// level changes.
	CooldownSeconds float64 `yaml:"cooldown_seconds"`
	// WindowSize is the monitor's sample window capacity.
	WindowSize int `yaml:"window_size"`
	// ThroughputWindowSeconds is the trailing throughput interval.
	ThroughputWindowSeconds float64 `yaml:"throughput_window_seconds"`
	// ReassemblyMaxAgeSeconds is the incomplete fragment-set eviction
	// age.
	ReassemblyMaxAgeSeconds float64 `yaml:"reassembly_max_age_seconds"`

	LogLevel string        `yaml:"log_level"`
	Metrics  MetricsConfig `yaml:"metrics"`
}

// DefaultServerConfig returns the server defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		VideoListen:          "0.0.0.0:8888",
		ControlListen:        "0.0.0.0:8889",
		FrameRate:            30,
		MaxFrameRate:         30,
		ChunkDurationSeconds: 2.0,
		MaxPacketSize:        60000,
		InitialLevel:         "480p",
		LogLevel:             "info",
		Metrics: MetricsConfig{
			Listen: "127.0.0.1:9190",
			Path:   "/metrics",
		},
	}
}

// DefaultClientConfig returns the client defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		ServerAddr:              "127.0.0.1:8889",
		VideoListen:             "0.0.0.0:8890",
		InitialLevel:            "480p",
		CooldownSeconds:         7.0,
		WindowSize:              100,
		ThroughputWindowSeconds: 1.0,
		ReassemblyMaxAgeSeconds: 10.0,
		LogLevel:                "info",
		Metrics: MetricsConfig{
			Listen: "127.0.0.1:9191",
			Path:   "/metrics",
		},
	}
}

// LoadServer reads a server configuration file over the defaults. An
// empty path returns the defaults unchanged.
func LoadServer(path string) (ServerConfig, error) {
	cfg := DefaultServerConfig()
	if err := loadInto(path, &cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadClient reads a client configuration file over the defaults. An
// empty path returns the defaults unchanged.
func LoadClient(path string) (ClientConfig, error) {
	cfg := DefaultClientConfig()
	if err := loadInto(path, &cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadInto(path string, out interface{}) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// Validate checks the server configuration for internal consistency.
func (c *ServerConfig) Validate() error {
	if err := validateHostPort("video_listen", c.VideoListen); err != nil {
		return err
	}
	if err := validateHostPort("control_listen", c.ControlListen); err != nil {
		return err
	}
	if c.VideoListen == c.ControlListen {
		return fmt.Errorf("video_listen and control_listen must differ, both are %s", c.VideoListen)
	}
	if c.FrameRate <= 0 {
		return fmt.Errorf("frame_rate must be positive, got %g", c.FrameRate)
	}
	if c.MaxFrameRate <= 0 {
		return fmt.Errorf("max_frame_rate must be positive, got %g", c.MaxFrameRate)
	}
	if c.ChunkDurationSeconds <= 0 {
		return fmt.Errorf("chunk_duration_seconds must be positive, got %g", c.ChunkDurationSeconds)
	}
	if c.MaxPacketSize < 512 || c.MaxPacketSize > 65507 {
		return fmt.Errorf("max_packet_size %d outside [512, 65507]", c.MaxPacketSize)
	}
	return nil
}

// Validate checks the client configuration for internal consistency.
func (c *ClientConfig) Validate() error {
	if err := validateHostPort("server_addr", c.ServerAddr); err != nil {
		return err
	}
	if err := validateHostPort("video_listen", c.VideoListen); err != nil {
		return err
	}
	if c.CooldownSeconds <= 0 {
		return fmt.Errorf("cooldown_seconds must be positive, got %g", c.CooldownSeconds)
	}
	if c.WindowSize <= 0 {
		return fmt.Errorf("window_size must be positive, got %d", c.WindowSize)
	}
	if c.ThroughputWindowSeconds <= 0 {
		return fmt.Errorf("throughput_window_seconds must be positive, got %g", c.ThroughputWindowSeconds)
	}
	if c.ReassemblyMaxAgeSeconds <= 0 {
		return fmt.Errorf("reassembly_max_age_seconds must be positive, got %g", c.ReassemblyMaxAgeSeconds)
	}
	return nil
}

// VideoPort extracts the UDP port number from the client's video
// listen address, as announced to the server during registration.
func (c *ClientConfig) VideoPort() (int, error) {
	_, portStr, err := net.SplitHostPort(c.VideoListen)
	if err != nil {
		return 0, fmt.Errorf("video_listen %s: %w", c.VideoListen, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0, fmt.Errorf("video_listen port %q: %w", portStr, err)
	}
	return port, nil
}

// Cooldown returns the adaptation cooldown as a duration.
func (c *ClientConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownSeconds * float64(time.Second))
}

// ThroughputWindow returns the throughput interval as a duration.
func (c *ClientConfig) ThroughputWindow() time.Duration {
	return time.Duration(c.ThroughputWindowSeconds * float64(time.Second))
}

// ReassemblyMaxAge returns the eviction age as a duration.
func (c *ClientConfig) ReassemblyMaxAge() time.Duration {
	return time.Duration(c.ReassemblyMaxAgeSeconds * float64(time.Second))
}

// ChunkDuration returns the chunk duration as a duration.
func (c *ServerConfig) ChunkDuration() time.Duration {
	return time.Duration(c.ChunkDurationSeconds * float64(time.Second))
}

func validateHostPort(field, addr string) error {
	if addr == "" {
		return fmt.Errorf("%s must not be empty", field)
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("%s %q: %w", field, addr, err)
	}
	return nil
}
