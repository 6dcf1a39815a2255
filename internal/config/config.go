// Package config loads cdpmux settings. Values are layered: built-in
// defaults, then an optional YAML file, then CDPMUX_* environment variables.
// Command line flags are applied last by the caller.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable, e.g. CDPMUX_COMMAND_TIMEOUT.
const EnvPrefix = "CDPMUX"

// Defaults.
const (
	DefaultHost             = "127.0.0.1"
	DefaultPort             = 9222
	DefaultCommandTimeout   = 30 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultCloseTimeout     = 2 * time.Second
	DefaultMaxFrameSize     = 100 << 20
	DefaultLogLevel         = "warn"
)

// Config holds every tunable of the client, the launcher and the CLI.
type Config struct {
	// Endpoint is a ws:// URL to connect to directly. When empty the
	// browser endpoint is discovered over HTTP at Host:Port.
	Endpoint string `yaml:"endpoint" envconfig:"ENDPOINT"`
	Host     string `yaml:"host" envconfig:"HOST"`
	Port     int    `yaml:"port" envconfig:"PORT"`

	CommandTimeout   time.Duration `yaml:"command_timeout" envconfig:"COMMAND_TIMEOUT"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout" envconfig:"HANDSHAKE_TIMEOUT"`
	CloseTimeout     time.Duration `yaml:"close_timeout" envconfig:"CLOSE_TIMEOUT"`

	// MaxFrameSize bounds inbound frames and messages in bytes.
	MaxFrameSize int64 `yaml:"max_frame_size" envconfig:"MAX_FRAME_SIZE"`
	// FragmentSize splits outbound messages into frames of this many bytes.
	// Zero sends every message as a single frame.
	FragmentSize int `yaml:"fragment_size" envconfig:"FRAGMENT_SIZE"`

	Chrome      string `yaml:"chrome" envconfig:"CHROME"`
	Headless    bool   `yaml:"headless" envconfig:"HEADLESS"`
	Pipe        bool   `yaml:"pipe" envconfig:"PIPE"`
	UserDataDir string `yaml:"user_data_dir" envconfig:"USER_DATA_DIR"`

	LogLevel  string `yaml:"log_level" envconfig:"LOG_LEVEL"`
	LogFilter string `yaml:"log_filter" envconfig:"LOG_FILTER"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Host:             DefaultHost,
		Port:             DefaultPort,
		CommandTimeout:   DefaultCommandTimeout,
		HandshakeTimeout: DefaultHandshakeTimeout,
		CloseTimeout:     DefaultCloseTimeout,
		MaxFrameSize:     DefaultMaxFrameSize,
		Headless:         true,
		LogLevel:         DefaultLogLevel,
	}
}

// Load layers the YAML file at path (skipped when empty) and the
// environment over the defaults, then validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := decodeYAML(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return cfg, fmt.Errorf("read environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.CommandTimeout <= 0 {
		errs = append(errs, fmt.Errorf("command_timeout must be positive, got %s", c.CommandTimeout))
	}
	if c.HandshakeTimeout <= 0 {
		errs = append(errs, fmt.Errorf("handshake_timeout must be positive, got %s", c.HandshakeTimeout))
	}
	if c.CloseTimeout <= 0 {
		errs = append(errs, fmt.Errorf("close_timeout must be positive, got %s", c.CloseTimeout))
	}
	if c.MaxFrameSize <= 0 {
		errs = append(errs, fmt.Errorf("max_frame_size must be positive, got %d", c.MaxFrameSize))
	}
	if c.FragmentSize < 0 {
		errs = append(errs, fmt.Errorf("fragment_size must not be negative, got %d", c.FragmentSize))
	}
	if c.MaxFrameSize > 0 && int64(c.FragmentSize) > c.MaxFrameSize {
		errs = append(errs, fmt.Errorf("fragment_size %d exceeds max_frame_size %d", c.FragmentSize, c.MaxFrameSize))
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	if c.LogFilter != "" {
		if _, err := regexp.Compile(c.LogFilter); err != nil {
			errs = append(errs, fmt.Errorf("log_filter: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// HTTPAddr returns the host:port of the browser's HTTP discovery endpoint.
func (c Config) HTTPAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
