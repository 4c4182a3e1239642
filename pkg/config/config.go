package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Gateway backends selectable with Backend.
const (
	BackendGoBLE  = "goble"
	BackendTinyGo = "tinygo"
)

// Config holds application configuration
type Config struct {
	LogLevel string `yaml:"log_level" default:"info"`
	Backend  string `yaml:"backend" default:"goble"`

	ScanTimeout    time.Duration `yaml:"scan_timeout" default:"10s"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" default:"10s"`
	NotifyDelay    time.Duration `yaml:"notify_delay" default:"100ms"`

	ChunkSize  int           `yaml:"chunk_size" default:"20"`
	ChunkDelay time.Duration `yaml:"chunk_delay" default:"0s"`

	QueuePreDelay  time.Duration `yaml:"queue_pre_delay" default:"0s"`
	QueuePostDelay time.Duration `yaml:"queue_post_delay" default:"0s"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML config file over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}

	switch strings.ToLower(c.Backend) {
	case BackendGoBLE, BackendTinyGo:
	default:
		return fmt.Errorf("backend must be %q or %q, got %q", BackendGoBLE, BackendTinyGo, c.Backend)
	}

	if c.ScanTimeout <= 0 {
		return fmt.Errorf("scan_timeout must be > 0")
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("connect_timeout must be > 0")
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be > 0")
	}
	for name, d := range map[string]time.Duration{
		"notify_delay":     c.NotifyDelay,
		"chunk_delay":      c.ChunkDelay,
		"queue_pre_delay":  c.QueuePreDelay,
		"queue_post_delay": c.QueuePostDelay,
	} {
		if d < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	return nil
}

// Level returns the parsed log level, info when unparseable.
func (c *Config) Level() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.Level())

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
