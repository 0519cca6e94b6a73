// Package config loads the optional steward YAML file and applies
// STEWARD_* environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Default values used when a field is left unset.
const (
	DefaultPath              = "/etc/steward/steward.yaml"
	DefaultAddr              = "127.0.0.1:5000"
	DefaultMaxOutput         = 8 << 20 // 8 MB per stream
	DefaultPollInterval      = 100 * time.Millisecond
	DefaultHistory           = 16
	DefaultRedisChannel      = "steward:output"
	DefaultSnapshotBinary    = "/usr/bin/timeshift"
	DefaultSnapshotConfigDir = "/etc/timeshift"
)

// Config holds the parsed steward configuration.
// All fields are optional; zero values represent defaults.
type Config struct {
	Version         int    `yaml:"version"`
	Addr            string `yaml:"addr" env:"STEWARD_ADDR"`
	RawTimeout      string `yaml:"timeout" env:"STEWARD_TIMEOUT"`             // e.g. "30m"; empty means no timeout
	RawMaxOutput    int    `yaml:"max_output" env:"STEWARD_MAX_OUTPUT"`       // bytes per stream
	RawPollInterval string `yaml:"poll_interval" env:"STEWARD_POLL_INTERVAL"` // e.g. "100ms"
	RawRequireRoot  string `yaml:"require_root" env:"STEWARD_REQUIRE_ROOT"`   // "true" or "false"
	RawHistory      int    `yaml:"history" env:"STEWARD_HISTORY"`             // operation records kept in memory

	Redis    RedisConfig    `yaml:"redis" envPrefix:"STEWARD_REDIS_"`
	OTel     OTelConfig     `yaml:"otel" envPrefix:"STEWARD_OTEL_"`
	Snapshot SnapshotConfig `yaml:"snapshot" envPrefix:"STEWARD_SNAPSHOT_"`

	// Signatures overrides the failure signatures of an operation, keyed
	// by operation name (e.g. "snapshot_create").
	Signatures map[string]SignatureConfig `yaml:"signatures"`
}

// RedisConfig enables mirroring of the output feed to Redis pub/sub.
type RedisConfig struct {
	Addr    string `yaml:"addr" env:"ADDR"` // empty disables the mirror
	Channel string `yaml:"channel" env:"CHANNEL"`
}

// OTelConfig enables trace export.
type OTelConfig struct {
	Endpoint string `yaml:"endpoint" env:"ENDPOINT"` // OTLP/HTTP URL; empty disables tracing
}

// SnapshotConfig locates the timeshift installation.
type SnapshotConfig struct {
	Binary    string `yaml:"binary" env:"BINARY"`
	ConfigDir string `yaml:"config_dir" env:"CONFIG_DIR"`
}

// SignatureConfig lists output fragments that turn a zero exit into a failure.
type SignatureConfig struct {
	Stdout []string `yaml:"stdout"`
	Stderr []string `yaml:"stderr"`
}

// DefaultSignatures are used for operations without configured signatures.
var DefaultSignatures = map[string]SignatureConfig{
	"update": {
		Stderr: []string{"E: "},
	},
	"snapshot_create": {
		Stderr: []string{"rsync returned an error", "Failed to create new snapshot"},
		Stdout: []string{"Removing snapshots (incomplete)"},
	},
	"firewall_toggle": {Stderr: []string{"ERROR: "}},
	"firewall_port":   {Stderr: []string{"ERROR: "}},
	"ip_manage":       {Stderr: []string{"ERROR: "}},
}

// ListenAddr returns the configured listen address or the default.
func (c *Config) ListenAddr() string {
	if c.Addr != "" {
		return c.Addr
	}
	return DefaultAddr
}

// Timeout returns the configured command timeout, or zero when commands
// may run forever.
func (c *Config) Timeout() time.Duration {
	if c.RawTimeout != "" {
		d, err := time.ParseDuration(c.RawTimeout)
		if err == nil && d > 0 {
			return d
		}
	}
	return 0
}

// MaxOutputBytes returns the configured max output size or the default.
func (c *Config) MaxOutputBytes() int {
	if c.RawMaxOutput > 0 {
		return c.RawMaxOutput
	}
	return DefaultMaxOutput
}

// PollInterval returns how often idle live feeds poll the output queue.
func (c *Config) PollInterval() time.Duration {
	if c.RawPollInterval != "" {
		d, err := time.ParseDuration(c.RawPollInterval)
		if err == nil && d > 0 {
			return d
		}
	}
	return DefaultPollInterval
}

// RequireRoot reports whether servers refuse to start without root
// privileges. It defaults to true.
func (c *Config) RequireRoot() bool {
	if c.RawRequireRoot != "" {
		if v, err := strconv.ParseBool(c.RawRequireRoot); err == nil {
			return v
		}
	}
	return true
}

// History returns how many operation records are kept for inspection.
func (c *Config) History() int {
	if c.RawHistory > 0 {
		return c.RawHistory
	}
	return DefaultHistory
}

// RedisChannel returns the pub/sub channel for the output mirror.
func (c *Config) RedisChannel() string {
	if c.Redis.Channel != "" {
		return c.Redis.Channel
	}
	return DefaultRedisChannel
}

// SnapshotBinary returns the path of the timeshift executable.
func (c *Config) SnapshotBinary() string {
	if c.Snapshot.Binary != "" {
		return c.Snapshot.Binary
	}
	return DefaultSnapshotBinary
}

// SnapshotConfigDir returns the directory whose presence means timeshift
// has been set up.
func (c *Config) SnapshotConfigDir() string {
	if c.Snapshot.ConfigDir != "" {
		return c.Snapshot.ConfigDir
	}
	return DefaultSnapshotConfigDir
}

// SignaturesFor returns the failure signatures of an operation. Configured
// signatures replace the defaults for that operation entirely.
func (c *Config) SignaturesFor(operation string) SignatureConfig {
	if s, ok := c.Signatures[operation]; ok {
		return s
	}
	return DefaultSignatures[operation]
}

// Load reads the YAML file at path and applies environment overrides. A
// missing file is not an error: defaults and the environment still apply.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	if err := ParseEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

// validate rejects values the accessors would otherwise replace with their
// defaults.
func (c *Config) validate() error {
	durations := []struct {
		name, raw string
	}{
		{"timeout", c.RawTimeout},
		{"poll_interval", c.RawPollInterval},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
		if v < 0 {
			return fmt.Errorf("%s: %q is negative", d.name, d.raw)
		}
	}
	if c.RawRequireRoot != "" {
		if _, err := strconv.ParseBool(c.RawRequireRoot); err != nil {
			return fmt.Errorf("require_root: %w", err)
		}
	}
	return nil
}

// ParseEnv applies STEWARD_* environment variables to cfg. Unset variables
// leave the corresponding fields untouched.
func ParseEnv(cfg *Config) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}
