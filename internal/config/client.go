package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// ClientConfig is the terminal client's configuration, read from ~/.scribe/config.toml.
type ClientConfig struct {
	ServerURL  string        `toml:"server_url"`
	Model      string        `toml:"model"`
	Store      string        `toml:"store"`
	SQLitePath string        `toml:"sqlite_path"`
	RedisURL   string        `toml:"redis_url"`
	Skew       time.Duration `toml:"skew"`
	Policy     PolicyConfig  `toml:"policy"`
}

type PolicyConfig struct {
	Timeout    time.Duration `toml:"timeout"`
	MaxRetries int           `toml:"max_retries"`
	BaseDelay  time.Duration `toml:"base_delay"`
	MaxDelay   time.Duration `toml:"max_delay"`
}

const (
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
	StoreMemory = "memory"
)

// ClientDir returns ~/.scribe.
func ClientDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".scribe"), nil
}

func DefaultClient() *ClientConfig {
	cfg := &ClientConfig{
		ServerURL: "http://localhost:8080",
		Model:     "gemini-pro",
		Store:     StoreSQLite,
		Skew:      30 * time.Second,
		Policy: PolicyConfig{
			Timeout:    30 * time.Second,
			MaxRetries: 2,
			BaseDelay:  time.Second,
			MaxDelay:   10 * time.Second,
		},
	}
	if dir, err := ClientDir(); err == nil {
		cfg.SQLitePath = filepath.Join(dir, "scribe.db")
	}
	return cfg
}

// LoadClient reads path over the defaults. A missing file yields the defaults;
// an empty path means ~/.scribe/config.toml.
func LoadClient(path string) (*ClientConfig, error) {
	cfg := DefaultClient()

	if path == "" {
		dir, err := ClientDir()
		if err != nil {
			return cfg, nil
		}
		path = filepath.Join(dir, "config.toml")
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, cfg.Validate()
		}
		return nil, err
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode TOML file: %w", err)
	}
	if v := os.Getenv("SCRIBE_SERVER_URL"); v != "" {
		cfg.ServerURL = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *ClientConfig) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("server_url is required")
	}
	switch c.Store {
	case StoreSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("sqlite_path is required for the sqlite store")
		}
	case StoreRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("redis_url is required for the redis store")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}
	if c.Policy.MaxRetries < 0 {
		return fmt.Errorf("policy.max_retries must not be negative")
	}
	if c.Policy.Timeout <= 0 || c.Policy.BaseDelay <= 0 || c.Policy.MaxDelay < c.Policy.BaseDelay {
		return fmt.Errorf("policy durations must be positive and max_delay >= base_delay")
	}
	return nil
}
