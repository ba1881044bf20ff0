package config

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Agent    AgentConfig    `toml:"agent"`
	Observer ObserverConfig `toml:"observer"`
}

type ServerConfig struct {
	Addr    string `toml:"addr"`
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

type DatabaseConfig struct {
	// Driver selects the store backend: file, sqlite or postgres.
	Driver string `toml:"driver"`
	// Path is the data directory (file) or database file (sqlite).
	Path string `toml:"path"`
	// URL is the postgres connection string.
	URL string `toml:"url"`
}

type AgentConfig struct {
	Default  string `toml:"default"`
	MaxTurns int    `toml:"max_turns"`
}

type ObserverConfig struct {
	Enabled  bool                       `toml:"enabled"`
	Endpoint string                     `toml:"endpoint"`
	Pricing  map[string]ObserverPricing `toml:"pricing"`
}

type ObserverPricing struct {
	Input  float64 `toml:"input"`
	Output float64 `toml:"output"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	home, _ := os.UserHomeDir()
	if home == "" {
		home = "/tmp"
	}
	return Config{
		Server:   ServerConfig{Addr: ":8080", Name: "ai-kit", Version: "dev"},
		Database: DatabaseConfig{Driver: "file", Path: filepath.Join(home, "ai-kit-data")},
		Agent:    AgentConfig{MaxTurns: 10},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "aikit.toml"
	}

	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	// Env overrides
	if v := os.Getenv("AIKIT_SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("AIKIT_DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("AIKIT_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("AIKIT_DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("AIKIT_AGENT_MAX_TURNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Agent.MaxTurns = n
		}
	}
	if v := os.Getenv("AIKIT_OBSERVER_ENDPOINT"); v != "" {
		cfg.Observer.Endpoint = v
		cfg.Observer.Enabled = true
	}

	return cfg
}
