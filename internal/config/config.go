package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Server  ServerConfig  `toml:"server"`
	Quantum QuantumConfig `toml:"quantum"`
	Console ConsoleConfig `toml:"console"`
	Path    string        `toml:"-"`
}

// ServerConfig drives the aegisd binary.
type ServerConfig struct {
	Addr         string `toml:"addr"`
	DBPath       string `toml:"db_path"`
	ManeuverPath string `toml:"maneuver_path"`
	StageDelayMS int    `toml:"stage_delay_ms"`
}

// QuantumConfig drives the quantumd collaborator.
type QuantumConfig struct {
	Addr         string `toml:"addr"`
	DBPath       string `toml:"db_path"`
	ManeuverPath string `toml:"maneuver_path"`
}

// ConsoleConfig drives the dashboard client.
type ConsoleConfig struct {
	ServerURL        string `toml:"server_url"`
	QuantumURL       string `toml:"quantum_url"`
	ReconnectDelayMS int    `toml:"reconnect_delay_ms"`
}

func Load(path string) (Config, error) {
	resolved := path
	if resolved == "" {
		resolved = defaultConfigPath()
	}
	if strings.HasPrefix(resolved, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return Config{}, fmt.Errorf("resolve home directory: %w", err)
		}
		trimmed := strings.TrimPrefix(resolved, "~")
		trimmed = strings.TrimPrefix(trimmed, "\\")
		trimmed = strings.TrimPrefix(trimmed, "/")
		resolved = filepath.Join(home, trimmed)
	}
	resolved = filepath.Clean(resolved)

	bytes, err := os.ReadFile(resolved)
	if err != nil {
		return Config{}, fmt.Errorf("read config file %s: %w", resolved, err)
	}

	var cfg Config
	if _, err := toml.Decode(string(bytes), &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config file: %w", err)
	}
	cfg.Path = resolved
	return cfg.withDefaults(), nil
}

// Default returns the configuration used when no config file exists.
func Default() Config {
	return Config{}.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.Server.Addr == "" {
		c.Server.Addr = "127.0.0.1:8000"
	}
	if c.Server.DBPath == "" {
		c.Server.DBPath = "aegis.db"
	}
	if c.Server.ManeuverPath == "" {
		c.Server.ManeuverPath = "maneuvers.json"
	}
	if c.Server.StageDelayMS == 0 {
		c.Server.StageDelayMS = 800
	}
	if c.Quantum.Addr == "" {
		c.Quantum.Addr = "127.0.0.1:5001"
	}
	if c.Quantum.DBPath == "" {
		c.Quantum.DBPath = c.Server.DBPath
	}
	if c.Quantum.ManeuverPath == "" {
		c.Quantum.ManeuverPath = c.Server.ManeuverPath
	}
	if c.Console.ServerURL == "" {
		c.Console.ServerURL = "http://127.0.0.1:8000"
	}
	if c.Console.QuantumURL == "" {
		c.Console.QuantumURL = "http://127.0.0.1:5001"
	}
	if c.Console.ReconnectDelayMS == 0 {
		c.Console.ReconnectDelayMS = 3000
	}
	return c
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".aegis/config.toml"
	}
	return filepath.Join(home, ".aegis", "config.toml")
}
