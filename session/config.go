package session

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/sockwire/envelope"
)

// Config defines per-session protocol behavior.
type Config struct {
	// CallTimeout is the deadline for each issued request.
	CallTimeout time.Duration
	// ExpireInterval is how often the expiry sweep runs.
	ExpireInterval time.Duration
	// MaxPending caps concurrently pending requests.
	MaxPending int
	// MaxPayloadBytes bounds envelope payloads both ways.
	MaxPayloadBytes uint32
}

// DefaultConfig returns bounded defaults.
func DefaultConfig() Config {
	return Config{
		CallTimeout:     30 * time.Second,
		ExpireInterval:  time.Second,
		MaxPending:      1024,
		MaxPayloadBytes: envelope.DefaultLimits().MaxPayloadBytes,
	}
}

// WithDefaults fills zero fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.CallTimeout <= 0 {
		c.CallTimeout = def.CallTimeout
	}
	if c.ExpireInterval <= 0 {
		c.ExpireInterval = def.ExpireInterval
	}
	if c.MaxPending <= 0 {
		c.MaxPending = def.MaxPending
	}
	if c.MaxPayloadBytes == 0 {
		c.MaxPayloadBytes = def.MaxPayloadBytes
	}
	return c
}

// Validate rejects configurations that would break expiry fairness.
func (c Config) Validate() error {
	if c.ExpireInterval > c.CallTimeout {
		return errors.New("session: expire_interval must not exceed call_timeout")
	}
	return nil
}

// fileConfig is the TOML shape; durations are strings like "30s".
type fileConfig struct {
	CallTimeout     string `toml:"call_timeout"`
	ExpireInterval  string `toml:"expire_interval"`
	MaxPending      int    `toml:"max_pending"`
	MaxPayloadBytes uint32 `toml:"max_payload_bytes"`
}

// LoadConfig reads a session config from a TOML file, applies defaults and
// validates the result.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("session: config load failed (%s): %w", path, err)
	}
	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return Config{}, fmt.Errorf("session: config parse failed (%s): %w", path, err)
	}
	cfg := Config{
		MaxPending:      fc.MaxPending,
		MaxPayloadBytes: fc.MaxPayloadBytes,
	}
	if cfg.CallTimeout, err = parseDuration(fc.CallTimeout, "call_timeout"); err != nil {
		return Config{}, err
	}
	if cfg.ExpireInterval, err = parseDuration(fc.ExpireInterval, "expire_interval"); err != nil {
		return Config{}, err
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func parseDuration(raw, field string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("session: config field %s: %w", field, err)
	}
	return d, nil
}
