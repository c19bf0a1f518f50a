package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// MemoryPath selects a private in-memory database.
const MemoryPath = ":memory:"

// minOpenConns keeps one connection free for statement preparation while a
// writer holds another inside its transaction.
const minOpenConns = 2

// Config controls how the store opens its database.
type Config struct {
	Path                string        `env:"KIDTRACK_DB_PATH" envDefault:":memory:"`
	BusyTimeout         time.Duration `env:"KIDTRACK_DB_BUSY_TIMEOUT" envDefault:"5s"`
	MaxOpenConns        int           `env:"KIDTRACK_DB_MAX_OPEN_CONNS" envDefault:"4"`
	DestructiveFallback bool          `env:"KIDTRACK_DB_DESTRUCTIVE_FALLBACK" envDefault:"true"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		Path:                MemoryPath,
		BusyTimeout:         5 * time.Second,
		MaxOpenConns:        4,
		DestructiveFallback: true,
	}
}

// LoadConfig reads the configuration from KIDTRACK_DB_* variables.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	c.Path = strings.TrimSpace(c.Path)
	if c.Path == "" {
		c.Path = MemoryPath
	}
	if c.BusyTimeout <= 0 {
		c.BusyTimeout = 5 * time.Second
	}
	if c.MaxOpenConns < minOpenConns {
		c.MaxOpenConns = minOpenConns
	}
}

func (c Config) inMemory() bool {
	return c.Path == MemoryPath
}
