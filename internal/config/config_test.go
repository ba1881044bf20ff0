package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := Load(filepath.Join(t.TempDir(), "missing.toml"))

	if cfg.Server.Addr != ":8080" {
		t.Errorf("Server.Addr = %q, want :8080", cfg.Server.Addr)
	}
	if cfg.Database.Driver != "file" {
		t.Errorf("Database.Driver = %q, want file", cfg.Database.Driver)
	}
	if cfg.Agent.MaxTurns != 10 {
		t.Errorf("Agent.MaxTurns = %d, want 10", cfg.Agent.MaxTurns)
	}
}

func TestLoadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aikit.toml")
	data := `
[server]
addr = ":9090"
name = "test-server"

[database]
driver = "sqlite"
path = "/tmp/test.db"

[agent]
default = "assistant"
max_turns = 5

[observer]
enabled = true
endpoint = "localhost:4318"

[observer.pricing."gpt-test"]
input = 0.5
output = 1.5
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Load(path)
	if cfg.Server.Addr != ":9090" {
		t.Errorf("Server.Addr = %q, want :9090", cfg.Server.Addr)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("Database.Driver = %q, want sqlite", cfg.Database.Driver)
	}
	if cfg.Agent.Default != "assistant" {
		t.Errorf("Agent.Default = %q, want assistant", cfg.Agent.Default)
	}
	if cfg.Agent.MaxTurns != 5 {
		t.Errorf("Agent.MaxTurns = %d, want 5", cfg.Agent.MaxTurns)
	}
	if p, ok := cfg.Observer.Pricing["gpt-test"]; !ok || p.Input != 0.5 || p.Output != 1.5 {
		t.Errorf("Observer.Pricing[gpt-test] = %+v, want {0.5 1.5}", p)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("AIKIT_SERVER_ADDR", ":7070")
	t.Setenv("AIKIT_DATABASE_DRIVER", "postgres")
	t.Setenv("AIKIT_DATABASE_URL", "postgres://localhost/aikit")
	t.Setenv("AIKIT_AGENT_MAX_TURNS", "3")

	cfg := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if cfg.Server.Addr != ":7070" {
		t.Errorf("Server.Addr = %q, want :7070", cfg.Server.Addr)
	}
	if cfg.Database.Driver != "postgres" {
		t.Errorf("Database.Driver = %q, want postgres", cfg.Database.Driver)
	}
	if cfg.Database.URL != "postgres://localhost/aikit" {
		t.Errorf("Database.URL = %q", cfg.Database.URL)
	}
	if cfg.Agent.MaxTurns != 3 {
		t.Errorf("Agent.MaxTurns = %d, want 3", cfg.Agent.MaxTurns)
	}
}

func TestEnvMaxTurnsInvalid(t *testing.T) {
	t.Setenv("AIKIT_AGENT_MAX_TURNS", "not-a-number")

	cfg := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if cfg.Agent.MaxTurns != 10 {
		t.Errorf("Agent.MaxTurns = %d, want default 10", cfg.Agent.MaxTurns)
	}
}
