// Package config loads cellar configuration from a YAML file.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the full application configuration.
type Config struct {
	Database struct {
		// DSN is the SQLite database path, or ":memory:".
		DSN string `yaml:"dsn"`
	} `yaml:"database"`

	// Subscribers maps event names ("wine_lot.VOLUME_RECEIVED") to the
	// registered subscriber names dispatched after commit.
	Subscribers map[string][]string `yaml:"subscribers"`

	// CursorChunkSize is the keyset pagination page size.
	CursorChunkSize int `yaml:"cursor_chunk_size"`

	// RebuildChunkSize is how many aggregates each rebuild transaction
	// covers.
	RebuildChunkSize int `yaml:"rebuild_chunk_size"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	var cfg Config
	cfg.Database.DSN = "cellar.db"
	cfg.CursorChunkSize = 1000
	cfg.RebuildChunkSize = 1000
	return cfg
}

// Load reads and validates the YAML file at path. Missing fields keep their
// defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}

	if cfg.Database.DSN == "" {
		return cfg, fmt.Errorf("config: database.dsn must not be empty")
	}
	if cfg.CursorChunkSize <= 0 {
		return cfg, fmt.Errorf("config: cursor_chunk_size must be positive")
	}
	if cfg.RebuildChunkSize <= 0 {
		return cfg, fmt.Errorf("config: rebuild_chunk_size must be positive")
	}
	return cfg, nil
}
