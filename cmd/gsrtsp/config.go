package main

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	rtsp "github.com/cesbo/go-gsrtsp"
)

type Config struct {
	Host               string        `yaml:"host" toml:"host"`
	Port               int           `yaml:"port" toml:"port"`
	ServerMajorVersion int           `yaml:"server_major_version" toml:"server_major_version"`
	SupportsHEVC       bool          `yaml:"supports_hevc" toml:"supports_hevc"`
	Timeouts           TimeoutConfig `yaml:"timeouts" toml:"timeouts"`
	Stream             StreamConfig  `yaml:"stream" toml:"stream"`
	Logging            LoggingConfig `yaml:"logging" toml:"logging"`
}

type TimeoutConfig struct {
	Connect time.Duration `yaml:"connect" toml:"connect"`
	Request time.Duration `yaml:"request" toml:"request"`
	Payload time.Duration `yaml:"payload" toml:"payload"`
}

type StreamConfig struct {
	Width         int `yaml:"width" toml:"width"`
	Height        int `yaml:"height" toml:"height"`
	FPS           int `yaml:"fps" toml:"fps"`
	BitrateKbps   int `yaml:"bitrate_kbps" toml:"bitrate_kbps"`
	PacketSize    int `yaml:"packet_size" toml:"packet_size"`
	AudioChannels int `yaml:"audio_channels" toml:"audio_channels"`
}

type LoggingConfig struct {
	Level string `yaml:"level" toml:"level"`
}

func defaultConfig() Config {
	return Config{
		Port:               rtsp.DefaultPort,
		ServerMajorVersion: 4,
		Timeouts: TimeoutConfig{
			Connect: 10 * time.Second,
			Request: 10 * time.Second,
			Payload: time.Second,
		},
		Stream: StreamConfig{
			Width:         1280,
			Height:        720,
			FPS:           60,
			BitrateKbps:   10000,
			PacketSize:    1024,
			AudioChannels: 2,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// loadConfig reads a YAML or, by extension, TOML file over the defaults.
// Unknown keys are rejected in both formats.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	if strings.EqualFold(filepath.Ext(path), ".toml") {
		meta, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return Config{}, fmt.Errorf("decode config: %w", err)
		}

		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return Config{}, fmt.Errorf("decode config: unknown key %q", undecoded[0].String())
		}

		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.Host) == "" {
		return fmt.Errorf("host is required")
	}

	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d (must be between 1-65535)", c.Port)
	}

	if c.ServerMajorVersion < 3 {
		return fmt.Errorf("unsupported server generation: %d", c.ServerMajorVersion)
	}

	// the client is built without a datagram host
	if rtsp.TransportModeFor(c.ServerMajorVersion) == rtsp.TransportDatagram {
		return fmt.Errorf("server generation %d needs the datagram transport, which gsrtsp does not provide", c.ServerMajorVersion)
	}

	if c.Timeouts.Connect <= 0 || c.Timeouts.Request <= 0 || c.Timeouts.Payload <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}

	if _, ok := parseLevel(c.Logging.Level); !ok {
		return fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error)", c.Logging.Level)
	}

	return nil
}

func parseLevel(level string) (slog.Level, bool) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

func (c *Config) client(logger *slog.Logger) *rtsp.Client {
	return &rtsp.Client{
		Host:               c.Host,
		Port:               c.Port,
		ServerMajorVersion: c.ServerMajorVersion,
		SupportsHEVC:       c.SupportsHEVC,
		Encoder: &rtsp.StreamConfig{
			Width:         c.Stream.Width,
			Height:        c.Stream.Height,
			FPS:           c.Stream.FPS,
			BitrateKbps:   c.Stream.BitrateKbps,
			PacketSize:    c.Stream.PacketSize,
			AudioChannels: c.Stream.AudioChannels,
		},
		ConnectTimeout: c.Timeouts.Connect,
		RequestTimeout: c.Timeouts.Request,
		PayloadTimeout: c.Timeouts.Payload,
		Logger:         logger,
	}
}
