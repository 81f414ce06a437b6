// Package config loads the escrowd node configuration and genesis file.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the TOML node configuration for escrowd.
type Config struct {
	ListenAddress  string           `toml:"ListenAddress"`
	MetricsAddress string           `toml:"MetricsAddress"`
	DataDir        string           `toml:"DataDir"`
	GenesisFile    string           `toml:"GenesisFile"`
	EventLogPath   string           `toml:"EventLogPath"`
	Environment    string           `toml:"Environment"`
	Log            LogConfig        `toml:"Log"`
	Auth           AuthConfig       `toml:"Auth"`
	RateLimit      RateLimitConfig  `toml:"RateLimit"`
	Arbitrator     ArbitratorConfig `toml:"Arbitrator"`
}

// LogConfig controls the slog sink.
type LogConfig struct {
	Level      string `toml:"Level"`
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
}

// AuthConfig configures HS256 bearer token verification.
type AuthConfig struct {
	HMACSecret string   `toml:"HMACSecret"`
	Issuer     string   `toml:"Issuer"`
	Audience   string   `toml:"Audience"`
	ClockSkew  Duration `toml:"ClockSkew"`
}

// RateLimitConfig bounds requests per caller.
type RateLimitConfig struct {
	RequestsPerMinute int `toml:"RequestsPerMinute"`
	Burst             int `toml:"Burst"`
}

// ArbitratorConfig enables the in-process arbitration court. Cost maps an
// asset to the flat fee charged per dispute, as a decimal string.
type ArbitratorConfig struct {
	Enabled bool              `toml:"Enabled"`
	Cost    map[string]string `toml:"Cost"`
}

// Duration wraps time.Duration to support TOML text values such as "30s".
type Duration struct {
	time.Duration
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

// MarshalText renders the duration in time.Duration notation.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the configuration written when no file exists.
func Default() *Config {
	return &Config{
		ListenAddress:  ":8080",
		MetricsAddress: ":9090",
		DataDir:        "./escrow-data",
		GenesisFile:    "",
		EventLogPath:   "./escrow-data/events.db",
		Environment:    "local",
		Log:            LogConfig{Level: "info"},
		Auth: AuthConfig{
			Issuer:    "escrowctl",
			Audience:  "escrowd",
			ClockSkew: Duration{30 * time.Second},
		},
		RateLimit:  RateLimitConfig{RequestsPerMinute: 120, Burst: 20},
		Arbitrator: ArbitratorConfig{Cost: map[string]string{}},
	}
}

// Load loads the configuration from the given path, writing defaults when the
// file does not exist yet.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := Default()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s has unknown field %s", path, undecoded[0].String())
	}
	if env := strings.TrimSpace(os.Getenv("ESCROWD_ENV")); env != "" {
		cfg.Environment = env
	}
	if secret := strings.TrimSpace(os.Getenv("ESCROWD_HMAC_SECRET")); secret != "" {
		cfg.Auth.HMACSecret = secret
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings the daemon cannot start without.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ListenAddress) == "" {
		return fmt.Errorf("ListenAddress must be set")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("DataDir must be set")
	}
	if len(strings.TrimSpace(c.Auth.HMACSecret)) < 32 {
		return fmt.Errorf("Auth.HMACSecret must be at least 32 bytes")
	}
	if c.RateLimit.RequestsPerMinute < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("RateLimit values must not be negative")
	}
	if c.Arbitrator.Cost == nil {
		c.Arbitrator.Cost = map[string]string{}
	}
	return nil
}

func createDefault(path string) (*Config, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}
	cfg := Default()
	cfg.Auth.HMACSecret = hex.EncodeToString(secret)
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
	return toml.NewEncoder(f).Encode(cfg)
}
