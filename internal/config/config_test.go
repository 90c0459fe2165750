package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFillsDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	raw := `
[server]
addr = "127.0.0.1:9100"

[console]
reconnect_delay_ms = 500
`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Server.Addr != "127.0.0.1:9100" {
		t.Fatalf("expected explicit addr, got %q", cfg.Server.Addr)
	}
	if cfg.Server.DBPath != "aegis.db" {
		t.Fatalf("expected default db path, got %q", cfg.Server.DBPath)
	}
	if cfg.Console.ReconnectDelayMS != 500 {
		t.Fatalf("expected explicit reconnect delay, got %d", cfg.Console.ReconnectDelayMS)
	}
	if cfg.Console.ServerURL != "http://127.0.0.1:8000" {
		t.Fatalf("expected default server url, got %q", cfg.Console.ServerURL)
	}
	if cfg.Path != path {
		t.Fatalf("expected resolved path %q, got %q", path, cfg.Path)
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestQuantumInheritsServerPaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	raw := `
[server]
db_path = "/var/lib/aegis/aegis.db"
maneuver_path = "/var/lib/aegis/maneuvers.json"
`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Quantum.DBPath != cfg.Server.DBPath {
		t.Fatalf("expected quantum db path to inherit, got %q", cfg.Quantum.DBPath)
	}
	if cfg.Quantum.ManeuverPath != cfg.Server.ManeuverPath {
		t.Fatalf("expected quantum maneuver path to inherit, got %q", cfg.Quantum.ManeuverPath)
	}
}

func TestDefaultIsComplete(t *testing.T) {
	cfg := Default()
	if cfg.Server.Addr == "" || cfg.Quantum.Addr == "" || cfg.Console.ServerURL == "" {
		t.Fatalf("default config incomplete: %+v", cfg)
	}
}
