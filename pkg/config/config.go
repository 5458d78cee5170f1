package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	LogLevel        string        `yaml:"log_level" default:"info"`
	ScanDuration    time.Duration `yaml:"scan_duration" default:"5s"`
	AllowDuplicates bool          `yaml:"allow_duplicates" default:"true"`
	LogDir          string        `yaml:"log_dir" default:"."`
	ExportDir       string        `yaml:"export_dir" default:"exports"`
	// EventBufferSize is the per-subscription event hub buffer.
	EventBufferSize int    `yaml:"event_buffer_size" default:"256"`
	Placeholder     string `yaml:"placeholder" default:"N/A"`
	OutputFormat    string `yaml:"output_format" default:"table"` // table, json
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML config file. Fields missing from the file keep their defaults.
// An empty path returns the defaults. A leading ~ in directories expands to the home directory.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.LogDir = expandTilde(cfg.LogDir)
	cfg.ExportDir = expandTilde(cfg.ExportDir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	var errs []error
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	if c.ScanDuration <= 0 {
		errs = append(errs, fmt.Errorf("scan_duration must be > 0, got %s", c.ScanDuration))
	}
	if c.EventBufferSize <= 0 {
		errs = append(errs, fmt.Errorf("event_buffer_size must be > 0, got %d", c.EventBufferSize))
	}
	switch c.OutputFormat {
	case "table", "json":
	default:
		errs = append(errs, fmt.Errorf("output_format must be \"table\" or \"json\", got %q", c.OutputFormat))
	}
	return errors.Join(errs...)
}

// Level returns the parsed log level, falling back to info.
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

func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
