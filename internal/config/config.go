// Package config loads the isamdb configuration file.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/phuslu/log"
	"gopkg.in/yaml.v3"

	"github.com/cabewaldrop/isamdb/internal/isam"
)

// ErrInvalid is returned by Validate for out-of-range settings.
var ErrInvalid = errors.New("config: invalid")

// Config defines store and logging settings.
type Config struct {
	Dir               string    `yaml:"dir"`
	PageSize          int       `yaml:"pageSize"`
	OverflowThreshold float64   `yaml:"overflowThreshold"`
	DeletionThreshold float64   `yaml:"deletionThreshold"`
	FillFactor        float64   `yaml:"fillFactor"`
	AutoReorganize    bool      `yaml:"autoReorganize"`
	Fresh             bool      `yaml:"fresh"`
	Seed              int64     `yaml:"seed"`
	Log               LogConfig `yaml:"log"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Dir:               "isamdb-data",
		PageSize:          isam.DefaultPageSize,
		OverflowThreshold: isam.DefaultOverflowThreshold,
		DeletionThreshold: isam.DefaultDeletionThreshold,
		FillFactor:        isam.DefaultFillFactor,
		Seed:              12345,
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads the YAML file at path over the defaults and validates it.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every setting.
func (c *Config) Validate() error {
	switch {
	case c.Dir == "":
		return fmt.Errorf("%w: dir is required", ErrInvalid)
	case c.PageSize < 1:
		return fmt.Errorf("%w: pageSize must be positive, got %d", ErrInvalid, c.PageSize)
	case !inUnitRange(c.OverflowThreshold):
		return fmt.Errorf("%w: overflowThreshold must be in (0, 1], got %g", ErrInvalid, c.OverflowThreshold)
	case !inUnitRange(c.DeletionThreshold):
		return fmt.Errorf("%w: deletionThreshold must be in (0, 1], got %g", ErrInvalid, c.DeletionThreshold)
	case !inUnitRange(c.FillFactor):
		return fmt.Errorf("%w: fillFactor must be in (0, 1], got %g", ErrInvalid, c.FillFactor)
	case c.Log.Format != "console" && c.Log.Format != "json":
		return fmt.Errorf("%w: log.format must be console or json, got %q", ErrInvalid, c.Log.Format)
	case !levels[c.Log.Level]:
		return fmt.Errorf("%w: unknown log.level %q", ErrInvalid, c.Log.Level)
	}
	return nil
}

var levels = map[string]bool{
	"trace": true, "debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true,
}

// Level returns the phuslu log level of the configuration.
func (c *Config) Level() log.Level {
	return log.ParseLevel(c.Log.Level)
}

// NewLogger builds the logger described by the log settings, writing to w.
func (c *Config) NewLogger(w io.Writer) *log.Logger {
	logger := &log.Logger{
		Level:  c.Level(),
		Writer: &log.IOWriter{Writer: w},
	}
	if c.Log.Format == "console" {
		logger.Writer = &log.ConsoleWriter{Writer: w}
	}
	return logger
}

func inUnitRange(v float64) bool {
	return v > 0 && v <= 1
}

// EngineOptions translates the store settings into engine options.
func (c *Config) EngineOptions() []isam.Option {
	return []isam.Option{
		isam.WithPageSize(c.PageSize),
		isam.WithOverflowThreshold(c.OverflowThreshold),
		isam.WithDeletionThreshold(c.DeletionThreshold),
		isam.WithFillFactor(c.FillFactor),
		isam.WithAutoReorganize(c.AutoReorganize),
		isam.WithFresh(c.Fresh),
	}
}
