package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config is the bountyd runtime configuration. Files ending in .yaml or .yml
// are decoded as YAML, anything else as TOML.
type Config struct {
	ListenAddress string    `toml:"ListenAddress" yaml:"listen_address"`
	DataDir       string    `toml:"DataDir" yaml:"data_dir"`
	EventLogPath  string    `toml:"EventLogPath" yaml:"event_log_path"`
	Environment   string    `toml:"Environment" yaml:"environment"`
	Hasher        string    `toml:"Hasher" yaml:"hasher"`
	AllowMigrate  bool      `toml:"AllowMigrate" yaml:"allow_migrate"`
	Server        Server    `toml:"Server" yaml:"server"`
	Auth          Auth      `toml:"Auth" yaml:"auth"`
	Logging       Logging   `toml:"Logging" yaml:"logging"`
	Telemetry     Telemetry `toml:"Telemetry" yaml:"telemetry"`
	Genesis       Genesis   `toml:"Genesis" yaml:"genesis"`
}

const (
	envAuthSecret = "BOUNTYD_AUTH_SECRET"
	envEnv        = "BOUNTYD_ENV"
	envLogLevel   = "BOUNTYD_LOG_LEVEL"
)

// Load loads the configuration from the given path. A missing file is created
// with defaults so a fresh node starts with an editable template.
func Load(path string) (*Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg, err = createDefault(path)
		if err != nil {
			return nil, err
		}
	} else if err := decode(path, cfg); err != nil {
		return nil, err
	}

	applyDefaults(cfg)
	applyEnv(cfg, lookup)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}

func decode(path string, cfg *Config) error {
	if isYAML(path) {
		file, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open config: %w", err)
		}
		defer file.Close()
		dec := yaml.NewDecoder(file)
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return fmt.Errorf("decode config: %w", err)
		}
		return nil
	}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("config file %s has unknown field %s", path, undecoded[0].String())
	}
	return nil
}

func defaults() *Config {
	return &Config{
		ListenAddress: ":8545",
		DataDir:       "./bounty-data",
		Hasher:        "keccak256",
		Server: Server{
			ReadTimeout:     Duration{15 * time.Second},
			WriteTimeout:    Duration{15 * time.Second},
			ShutdownTimeout: Duration{10 * time.Second},
		},
		Auth:    Auth{Issuer: "zkbounty", ClockSkew: Duration{30 * time.Second}},
		Logging: Logging{Level: "info", MaxSizeMB: 100, MaxBackups: 5, MaxAgeDays: 28},
		Genesis: Genesis{Allocations: map[string]string{}, Issuers: []string{}},
	}
}

func applyDefaults(cfg *Config) {
	def := defaults()
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = def.ListenAddress
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = def.DataDir
	}
	if strings.TrimSpace(cfg.EventLogPath) == "" {
		cfg.EventLogPath = filepath.Join(cfg.DataDir, "events.db")
	}
	if strings.TrimSpace(cfg.Hasher) == "" {
		cfg.Hasher = def.Hasher
	}
	if cfg.Server.ReadTimeout.Duration <= 0 {
		cfg.Server.ReadTimeout = def.Server.ReadTimeout
	}
	if cfg.Server.WriteTimeout.Duration <= 0 {
		cfg.Server.WriteTimeout = def.Server.WriteTimeout
	}
	if cfg.Server.ShutdownTimeout.Duration <= 0 {
		cfg.Server.ShutdownTimeout = def.Server.ShutdownTimeout
	}
	if strings.TrimSpace(cfg.Auth.Issuer) == "" {
		cfg.Auth.Issuer = def.Auth.Issuer
	}
	if cfg.Auth.ClockSkew.Duration < 0 {
		cfg.Auth.ClockSkew = def.Auth.ClockSkew
	}
	if strings.TrimSpace(cfg.Logging.Level) == "" {
		cfg.Logging.Level = def.Logging.Level
	}
	if cfg.Logging.MaxSizeMB <= 0 {
		cfg.Logging.MaxSizeMB = def.Logging.MaxSizeMB
	}
	if cfg.Genesis.Allocations == nil {
		cfg.Genesis.Allocations = map[string]string{}
	}
	if cfg.Genesis.Issuers == nil {
		cfg.Genesis.Issuers = []string{}
	}
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if lookup == nil {
		return
	}
	if secret, ok := lookup(envAuthSecret); ok && strings.TrimSpace(secret) != "" {
		cfg.Auth.HMACSecret = strings.TrimSpace(secret)
	}
	if env, ok := lookup(envEnv); ok && strings.TrimSpace(env) != "" {
		cfg.Environment = strings.TrimSpace(env)
	}
	if level, ok := lookup(envLogLevel); ok && strings.TrimSpace(level) != "" {
		cfg.Logging.Level = strings.TrimSpace(level)
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := defaults()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	if isYAML(path) {
		enc := yaml.NewEncoder(f)
		defer enc.Close()
		return enc.Encode(cfg)
	}
	return toml.NewEncoder(f).Encode(cfg)
}
