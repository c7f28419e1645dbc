package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so TOML and YAML files can use human readable
// strings such as "30s".
type Duration struct {
	time.Duration
}

// MarshalText renders the duration in time.Duration string form.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// UnmarshalText parses human readable duration strings.
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	return d.UnmarshalText([]byte(value.Value))
}

// Auth configures verification of caller bearer tokens.
type Auth struct {
	HMACSecret string   `toml:"HMACSecret" yaml:"hmac_secret"`
	Issuer     string   `toml:"Issuer" yaml:"issuer"`
	Audience   string   `toml:"Audience" yaml:"audience"`
	ClockSkew  Duration `toml:"ClockSkew" yaml:"clock_skew"`
}

// Logging controls log level and optional rotating file output.
type Logging struct {
	Level      string `toml:"Level" yaml:"level"`
	File       string `toml:"File" yaml:"file"`
	MaxSizeMB  int    `toml:"MaxSizeMB" yaml:"max_size_mb"`
	MaxBackups int    `toml:"MaxBackups" yaml:"max_backups"`
	MaxAgeDays int    `toml:"MaxAgeDays" yaml:"max_age_days"`
}

// Telemetry configures the OTLP exporters.
type Telemetry struct {
	Endpoint    string  `toml:"Endpoint" yaml:"endpoint"`
	Insecure    bool    `toml:"Insecure" yaml:"insecure"`
	Metrics     bool    `toml:"Metrics" yaml:"metrics"`
	Traces      bool    `toml:"Traces" yaml:"traces"`
	SampleRatio float64 `toml:"SampleRatio" yaml:"sample_ratio"`
}

// Genesis lists the balances and issuers seeded into an empty ledger.
// Amounts are decimal strings in base units.
type Genesis struct {
	Allocations map[string]string `toml:"Allocations" yaml:"allocations"`
	Issuers     []string          `toml:"Issuers" yaml:"issuers"`
}

// Server bounds the HTTP listener.
type Server struct {
	ReadTimeout     Duration `toml:"ReadTimeout" yaml:"read_timeout"`
	WriteTimeout    Duration `toml:"WriteTimeout" yaml:"write_timeout"`
	ShutdownTimeout Duration `toml:"ShutdownTimeout" yaml:"shutdown_timeout"`
}
