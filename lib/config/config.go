// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for production deployments.
	Production Environment = "production"
)

// EnvPrefix prefixes every environment variable that overrides a
// config value.
const EnvPrefix = "SPANPIPE_"

// Config is the configuration of an embedded span pipeline.
type Config struct {
	// Environment identifies the deployment type (development, staging, production).
	Environment Environment `yaml:"environment"`

	// Arena sizes the arena pool.
	Arena ArenaConfig `yaml:"arena"`

	// Export configures the export loop and the collector transport.
	Export ExportConfig `yaml:"export"`

	// Per-environment overrides, applied after the base config is
	// loaded.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
type ConfigOverrides struct {
	Arena  *ArenaConfig     `yaml:"arena,omitempty"`
	Export *ExportOverrides `yaml:"export,omitempty"`
}

// ArenaConfig sizes the arena pool.
type ArenaConfig struct {
	// InitialCapacity is the size in bytes of the first arena.
	// Default: 131072
	InitialCapacity int `yaml:"initial_capacity"`

	// MaxCapacity caps the size of any arena. Records larger than
	// this are rejected.
	// Default: 16777216
	MaxCapacity int `yaml:"max_capacity"`

	// BacklogSlots is the number of arenas kept besides the current
	// one.
	// Default: 8
	BacklogSlots int `yaml:"backlog_slots"`

	// PressurePercent is the fill level of the current arena that
	// triggers an early flush. Zero disables early flushes.
	// Default: 80
	PressurePercent int `yaml:"pressure_percent"`
}

// ExportConfig configures the export loop and the collector transport.
type ExportConfig struct {
	// Endpoint is the collector URL. ${VAR} and ${VAR:-default}
	// patterns are expanded from the environment.
	// Default: http://${SPANPIPE_COLLECTOR_HOST:-127.0.0.1}:4319/v1/spans
	Endpoint string `yaml:"endpoint"`

	// SendEnabled controls whether batches are sent at all.
	// Default: true
	SendEnabled bool `yaml:"send_enabled"`

	// FlushInterval is the period of the export loop.
	// Default: 1s
	FlushInterval time.Duration `yaml:"flush_interval"`

	// ShutdownTimeout bounds the drain on shutdown.
	// Default: 5s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// ConnectTimeout bounds establishing a collector connection.
	// Default: 2s
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// RequestTimeout bounds one whole export request.
	// Default: 10s
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// Compression is the request body encoding: none, gzip, zstd or
	// lz4.
	// Default: none
	Compression string `yaml:"compression"`

	// Framing is the payload document format: cbor or msgpack.
	// Default: cbor
	Framing string `yaml:"framing"`

	// ContainerID is reported to the collector. Empty means detect it
	// from the cgroup of the process.
	ContainerID string `yaml:"container_id"`
}

// ExportOverrides mirrors ExportConfig with an optional SendEnabled,
// so an environment section can leave it unset.
type ExportOverrides struct {
	Endpoint        string        `yaml:"endpoint"`
	SendEnabled     *bool         `yaml:"send_enabled,omitempty"`
	FlushInterval   time.Duration `yaml:"flush_interval"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	Compression     string        `yaml:"compression"`
	Framing         string        `yaml:"framing"`
	ContainerID     string        `yaml:"container_id"`
}

// Default returns the default configuration. Load and LoadFile apply
// the file and the environment over it.
func Default() *Config {
	return &Config{
		Environment: Development,
		Arena: ArenaConfig{
			InitialCapacity: 128 << 10,
			MaxCapacity:     16 << 20,
			BacklogSlots:    8,
			PressurePercent: 80,
		},
		Export: ExportConfig{
			Endpoint:        "http://${SPANPIPE_COLLECTOR_HOST:-127.0.0.1}:4319/v1/spans",
			SendEnabled:     true,
			FlushInterval:   time.Second,
			ShutdownTimeout: 5 * time.Second,
			ConnectTimeout:  2 * time.Second,
			RequestTimeout:  10 * time.Second,
			Compression:     "none",
			Framing:         "cbor",
		},
	}
}

// Load loads configuration from the file named by SPANPIPE_CONFIG. An
// embedded pipeline has no flag to point at a file, so without the
// variable Load returns Default with the SPANPIPE_* overrides applied.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvPrefix + "CONFIG")
	if configPath == "" {
		cfg := Default()
		if err := cfg.finish(nil); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path. Files ending
// in .json or .jsonc may contain comments and trailing commas; any
// other extension is read as YAML.
//
// Order of precedence, lowest first: Default, the file, the section
// for the configured environment, SPANPIPE_* environment variables.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.loadFile(path); err != nil {
		return nil, fmt.Errorf("loading config %s: %w", path, err)
	}
	if err := cfg.finish(nil); err != nil {
		return nil, err
	}
	return cfg, nil
}

// finish applies the environment section, the environment variables
// from environ (the process environment if nil) and variable
// expansion.
func (c *Config) finish(environ map[string]string) error {
	// The environment variable picks the override section, and the
	// other variables win over that section.
	selected := struct {
		Environment Environment `env:"ENVIRONMENT"`
	}{Environment: c.Environment}
	if err := env.ParseWithOptions(&selected, env.Options{Prefix: EnvPrefix, Environment: environ}); err != nil {
		return fmt.Errorf("parsing %sENVIRONMENT: %w", EnvPrefix, err)
	}
	c.Environment = selected.Environment

	c.applyEnvironmentOverrides()
	if err := c.applyVariables(environ); err != nil {
		return err
	}
	c.expandVariables(environ)
	return nil
}

// loadFile loads a single configuration file, merging into the current config.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		// Standard JSON is valid YAML, so the stripped document goes
		// through the same decoder and the same duration parsing.
		data = jsonc.ToJSON(data)
	}
	return yaml.Unmarshal(data, c)
}

// applyEnvironmentOverrides applies the section matching Environment.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides
	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
	}
	if overrides == nil {
		return
	}

	if arena := overrides.Arena; arena != nil {
		if arena.InitialCapacity != 0 {
			c.Arena.InitialCapacity = arena.InitialCapacity
		}
		if arena.MaxCapacity != 0 {
			c.Arena.MaxCapacity = arena.MaxCapacity
		}
		if arena.BacklogSlots != 0 {
			c.Arena.BacklogSlots = arena.BacklogSlots
		}
		if arena.PressurePercent != 0 {
			c.Arena.PressurePercent = arena.PressurePercent
		}
	}

	if export := overrides.Export; export != nil {
		if export.Endpoint != "" {
			c.Export.Endpoint = export.Endpoint
		}
		if export.SendEnabled != nil {
			c.Export.SendEnabled = *export.SendEnabled
		}
		if export.FlushInterval != 0 {
			c.Export.FlushInterval = export.FlushInterval
		}
		if export.ShutdownTimeout != 0 {
			c.Export.ShutdownTimeout = export.ShutdownTimeout
		}
		if export.ConnectTimeout != 0 {
			c.Export.ConnectTimeout = export.ConnectTimeout
		}
		if export.RequestTimeout != 0 {
			c.Export.RequestTimeout = export.RequestTimeout
		}
		if export.Compression != "" {
			c.Export.Compression = export.Compression
		}
		if export.Framing != "" {
			c.Export.Framing = export.Framing
		}
		if export.ContainerID != "" {
			c.Export.ContainerID = export.ContainerID
		}
	}
}

// variables lists the knobs settable through SPANPIPE_* environment
// variables. A field keeps its current value when its variable is
// unset.
type variables struct {
	InitialCapacity int           `env:"ARENA_INITIAL_CAPACITY"`
	MaxCapacity     int           `env:"ARENA_MAX_CAPACITY"`
	BacklogSlots    int           `env:"ARENA_BACKLOG_SLOTS"`
	PressurePercent int           `env:"ARENA_PRESSURE_PERCENT"`
	Endpoint        string        `env:"ENDPOINT"`
	SendEnabled     bool          `env:"SEND_ENABLED"`
	FlushInterval   time.Duration `env:"FLUSH_INTERVAL"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT"`
	ConnectTimeout  time.Duration `env:"CONNECT_TIMEOUT"`
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT"`
	Compression     string        `env:"COMPRESSION"`
	Framing         string        `env:"FRAMING"`
	ContainerID     string        `env:"CONTAINER_ID"`
}

// applyVariables overrides fields from SPANPIPE_* variables in environ,
// or in the process environment if environ is nil.
func (c *Config) applyVariables(environ map[string]string) error {
	values := variables{
		InitialCapacity: c.Arena.InitialCapacity,
		MaxCapacity:     c.Arena.MaxCapacity,
		BacklogSlots:    c.Arena.BacklogSlots,
		PressurePercent: c.Arena.PressurePercent,
		Endpoint:        c.Export.Endpoint,
		SendEnabled:     c.Export.SendEnabled,
		FlushInterval:   c.Export.FlushInterval,
		ShutdownTimeout: c.Export.ShutdownTimeout,
		ConnectTimeout:  c.Export.ConnectTimeout,
		RequestTimeout:  c.Export.RequestTimeout,
		Compression:     c.Export.Compression,
		Framing:         c.Export.Framing,
		ContainerID:     c.Export.ContainerID,
	}
	if err := env.ParseWithOptions(&values, env.Options{Prefix: EnvPrefix, Environment: environ}); err != nil {
		return fmt.Errorf("parsing %s environment variables: %w", EnvPrefix, err)
	}

	c.Arena = ArenaConfig{
		InitialCapacity: values.InitialCapacity,
		MaxCapacity:     values.MaxCapacity,
		BacklogSlots:    values.BacklogSlots,
		PressurePercent: values.PressurePercent,
	}
	c.Export = ExportConfig{
		Endpoint:        values.Endpoint,
		SendEnabled:     values.SendEnabled,
		FlushInterval:   values.FlushInterval,
		ShutdownTimeout: values.ShutdownTimeout,
		ConnectTimeout:  values.ConnectTimeout,
		RequestTimeout:  values.RequestTimeout,
		Compression:     values.Compression,
		Framing:         values.Framing,
		ContainerID:     values.ContainerID,
	}
	return nil
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in the
// endpoint.
func (c *Config) expandVariables(environ map[string]string) {
	lookup := os.Getenv
	if environ != nil {
		lookup = func(name string) string { return environ[name] }
	}
	c.Export.Endpoint = expandVars(c.Export.Endpoint, lookup)
}

// varPattern matches ${VAR} and ${VAR:-default}.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, lookup func(string) string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		if value := lookup(parts[1]); value != "" {
			return value
		}
		if len(parts) >= 3 {
			return parts[2]
		}
		return ""
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	if c.Arena.InitialCapacity <= 8 {
		errs = append(errs, fmt.Errorf("arena.initial_capacity must exceed the 8-byte record header, got %d", c.Arena.InitialCapacity))
	}
	if c.Arena.MaxCapacity < c.Arena.InitialCapacity {
		errs = append(errs, fmt.Errorf("arena.max_capacity %d is below arena.initial_capacity %d", c.Arena.MaxCapacity, c.Arena.InitialCapacity))
	}
	if c.Arena.BacklogSlots <= 0 {
		errs = append(errs, fmt.Errorf("arena.backlog_slots must be positive, got %d", c.Arena.BacklogSlots))
	}
	if c.Arena.PressurePercent < 0 || c.Arena.PressurePercent > 100 {
		errs = append(errs, fmt.Errorf("arena.pressure_percent must be within 0-100, got %d", c.Arena.PressurePercent))
	}

	if c.Export.FlushInterval <= 0 {
		errs = append(errs, fmt.Errorf("export.flush_interval must be positive, got %v", c.Export.FlushInterval))
	}
	if c.Export.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("export.shutdown_timeout must be positive, got %v", c.Export.ShutdownTimeout))
	}
	if c.Export.ConnectTimeout < 0 || c.Export.RequestTimeout < 0 {
		errs = append(errs, errors.New("export timeouts must not be negative"))
	}
	if c.Export.SendEnabled {
		if endpoint, err := url.Parse(c.Export.Endpoint); err != nil || (endpoint.Scheme != "http" && endpoint.Scheme != "https") || endpoint.Host == "" {
			errs = append(errs, fmt.Errorf("export.endpoint must be an http or https URL, got %q", c.Export.Endpoint))
		}
	}
	if compressions := []string{"none", "gzip", "zstd", "lz4"}; !slices.Contains(compressions, c.Export.Compression) {
		errs = append(errs, fmt.Errorf("export.compression must be one of: %v", compressions))
	}
	if framings := []string{"cbor", "msgpack"}; !slices.Contains(framings, c.Export.Framing) {
		errs = append(errs, fmt.Errorf("export.framing must be one of: %v", framings))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
