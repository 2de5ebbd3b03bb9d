// Package config provides configuration management for nwf.
//
// This file contains config loading functionality including:
// - XDG config path detection
// - TOML file parsing
// - Environment variable overrides
// - Validation
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// DetectConfigPath searches for a config file using XDG standard paths.
// Returns the first config file found, or empty string if none exists.
//
// Search order:
// 1. ~/.config/nwf/config.toml
//
// Returns empty string if no config file is found (caller should use defaults).
func DetectConfigPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	configPath := filepath.Join(homeDir, ".config", "nwf", "config.toml")
	if _, err := os.Stat(configPath); err == nil {
		return configPath
	}

	return ""
}

// Load loads a config from the specified path.
// If the file doesn't exist, returns an error.
// After loading, applies environment variable overrides and validates.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	// Start with defaults so partial files are filled in
	cfg := DefaultConfig()

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	applyEnvOverrides(cfg)
	expandPaths(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadWithDefaults attempts to load a config from XDG standard paths.
// If no config file is found, returns a config with all default values.
// If a config file is found but fails to load/validate, returns an error.
func LoadWithDefaults() (*Config, error) {
	configPath := DetectConfigPath()
	if configPath == "" {
		cfg := DefaultConfig()
		applyEnvOverrides(cfg)
		expandPaths(cfg)
		return cfg, nil
	}

	return Load(configPath)
}

// applyEnvOverrides applies environment variable overrides to the config.
// Environment variables follow the pattern: NWF_<SECTION>_<FIELD>
//
// Examples:
// - NWF_PATHS_WORKDIR overrides [paths].workdir
// - NWF_RUNNER_SHELL overrides [runner].shell
//
// Boolean fields: use "true"/"false" strings.
func applyEnvOverrides(c *Config) {
	applyString := func(key string, target *string) {
		if val, ok := os.LookupEnv(key); ok && val != "" {
			*target = val
		}
	}

	applyBool := func(key string, target *bool) {
		if val, ok := os.LookupEnv(key); ok && val != "" {
			switch strings.ToLower(val) {
			case "true", "1", "yes", "on":
				*target = true
			case "false", "0", "no", "off":
				*target = false
			}
		}
	}

	applyInt := func(key string, target *int) {
		if val, ok := os.LookupEnv(key); ok && val != "" {
			var i int
			if _, err := fmt.Sscanf(val, "%d", &i); err == nil {
				*target = i
			}
		}
	}

	// Paths section
	applyString("NWF_PATHS_WORKDIR", &c.Paths.Workdir)
	applyString("NWF_PATHS_CACHE_DIR", &c.Paths.CacheDir)
	applyString("NWF_PATHS_LOG_DIR", &c.Paths.LogDir)
	applyString("NWF_PATHS_HISTORY_PATH", &c.Paths.HistoryPath)

	// Runner section
	applyString("NWF_RUNNER_SHELL", &c.Runner.Shell)
	applyInt("NWF_RUNNER_PARALLELISM", &c.Runner.Parallelism)
	applyString("NWF_RUNNER_DOCKER_BINARY", &c.Runner.DockerBinary)
	applyBool("NWF_RUNNER_STREAM_OUTPUT", &c.Runner.StreamOutput)

	// Server section
	applyString("NWF_SERVER_ADDR", &c.Server.Addr)

	// TUI section
	applyBool("NWF_TUI_ENABLED", &c.TUI.Enabled)
}

// expandPaths expands ~ to the home directory in path fields.
func expandPaths(c *Config) {
	for _, p := range []*string{
		&c.Paths.Workdir,
		&c.Paths.CacheDir,
		&c.Paths.LogDir,
		&c.Paths.HistoryPath,
	} {
		if strings.HasPrefix(*p, "~/") || *p == "~" {
			homeDir, err := os.UserHomeDir()
			if err == nil {
				*p = filepath.Join(homeDir, strings.TrimPrefix(*p, "~/"))
			}
		}
	}
}
