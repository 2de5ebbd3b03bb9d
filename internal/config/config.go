// Package config provides configuration management for nwf.
//
// The configuration is stored in TOML format and supports validation
// and default values for all fields.
package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Config is the top-level configuration struct for nwf.
// It contains all configuration sections as embedded structs.
type Config struct {
	Paths  PathsConfig  `toml:"paths"`
	Runner RunnerConfig `toml:"runner"`
	Server ServerConfig `toml:"server"`
	TUI    TUIConfig    `toml:"tui"`
}

// PathsConfig contains filesystem locations used by runs.
type PathsConfig struct {
	// Workdir is the root directory for per-job working directories.
	Workdir string `toml:"workdir"`

	// CacheDir is where saved cache entries live between runs.
	CacheDir string `toml:"cache_dir"`

	// LogDir is where per-job log files are written.
	LogDir string `toml:"log_dir"`

	// HistoryPath is the sqlite database recording completed runs.
	HistoryPath string `toml:"history_path"`
}

// RunnerConfig contains job execution settings.
type RunnerConfig struct {
	// Shell is the default shell for run steps.
	// Valid values: "bash", "zsh", "sh", "pwsh".
	Shell string `toml:"shell"`

	// Parallelism is the maximum number of jobs running at once.
	Parallelism int `toml:"parallelism"`

	// DockerBinary is the container runtime command used for jobs
	// that declare an image ("docker", "podman", ...).
	DockerBinary string `toml:"docker_binary"`

	// StreamOutput controls whether step output is echoed to the
	// terminal as it is produced.
	StreamOutput bool `toml:"stream_output"`
}

// ServerConfig contains settings for the history HTTP server.
type ServerConfig struct {
	// Addr is the listen address for `nwf serve`.
	Addr string `toml:"addr"`
}

// TUIConfig contains terminal UI settings.
type TUIConfig struct {
	// Enabled controls whether to use the live status board
	// (when false, falls back to plain streamed output).
	Enabled bool `toml:"enabled"`
}

// DefaultConfig returns a Config with all default values set.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".local", "share", "nwf")

	// Detect default shell from environment
	shell := os.Getenv("SHELL")
	if shell == "" {
		shell = "sh"
	} else {
		// Extract shell name from path (e.g., /bin/zsh -> zsh)
		shell = filepath.Base(shell)
	}

	return &Config{
		Paths: PathsConfig{
			Workdir:     filepath.Join(dataDir, "work"),
			CacheDir:    filepath.Join(dataDir, "cache"),
			LogDir:      filepath.Join(dataDir, "logs"),
			HistoryPath: filepath.Join(dataDir, "history.db"),
		},
		Runner: RunnerConfig{
			Shell:        shell,
			Parallelism:  4,
			DockerBinary: "docker",
			StreamOutput: true,
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:8931",
		},
		TUI: TUIConfig{
			Enabled: true,
		},
	}
}

// Validate checks the configuration for valid values.
// Returns a nil error if the config is valid, or an error describing the problem.
func (c *Config) Validate() error {
	// Validate Paths section
	if c.Paths.Workdir == "" {
		return fmt.Errorf("paths.workdir cannot be empty")
	}
	if c.Paths.CacheDir == "" {
		return fmt.Errorf("paths.cache_dir cannot be empty")
	}
	if c.Paths.LogDir == "" {
		return fmt.Errorf("paths.log_dir cannot be empty")
	}
	if c.Paths.HistoryPath == "" {
		return fmt.Errorf("paths.history_path cannot be empty")
	}

	// Validate Runner section
	validShells := map[string]bool{
		"bash": true,
		"zsh":  true,
		"sh":   true,
		"pwsh": true,
	}
	if !validShells[c.Runner.Shell] {
		return fmt.Errorf("runner.shell must be one of: bash, zsh, sh, pwsh; got %q", c.Runner.Shell)
	}
	if c.Runner.Parallelism < 1 {
		return fmt.Errorf("runner.parallelism must be >= 1; got %d", c.Runner.Parallelism)
	}
	if c.Runner.DockerBinary == "" {
		return fmt.Errorf("runner.docker_binary cannot be empty")
	}

	// Validate Server section
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr cannot be empty")
	}

	return nil
}
