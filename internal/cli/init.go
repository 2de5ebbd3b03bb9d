// Package cli provides Cobra command definitions for nwf.
package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/wiheto/niworkflows/internal/config"
)

// samplePipeline is written by `nwf init --sample`; %s is the
// pipeline name.
const samplePipeline = `schema_version: 1
name: %s
jobs:
  build:
    steps:
      - run: echo building
      - persist_workspace:
          paths: [.]
  test:
    steps:
      - attach_workspace: {}
      - run: echo testing
workflow:
  jobs:
    - build
    - test:
        requires: [build]
`

// InitOptions contains the options for the init command.
type InitOptions struct {
	ConfigPath string

	// Scriptable/flag options for --no-tui mode
	Workdir     string
	CacheDir    string
	Shell       string
	Parallelism int
	Sample      bool
	Name        string
	Force       bool
}

// NewInitCommand creates the init command.
func NewInitCommand() *cobra.Command {
	opts := &InitOptions{}

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize nwf configuration",
		Long: `Create the nwf configuration file.

The init command guides you through the main settings: where runs
keep their working directories and caches, which shell run steps
use, and how many jobs may run in parallel.

Use --no-tui with flags for scripted setup. --sample also writes a
starter nwf.yml in the current directory.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(opts)
		},
	}

	cmd.Flags().StringVar(&opts.ConfigPath, "config", "", "config file path to write")
	cmd.Flags().StringVar(&opts.Workdir, "workdir", "", "run working directory root")
	cmd.Flags().StringVar(&opts.CacheDir, "cache-dir", "", "cache directory")
	cmd.Flags().StringVar(&opts.Shell, "shell", "", "default shell for run steps")
	cmd.Flags().IntVar(&opts.Parallelism, "parallelism", 0, "max jobs running at once")
	cmd.Flags().BoolVar(&opts.Sample, "sample", false, "also write a starter nwf.yml")
	cmd.Flags().StringVar(&opts.Name, "name", "", "pipeline name for the starter nwf.yml")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "overwrite an existing config file")

	return cmd
}

func runInit(opts *InitOptions) error {
	path := opts.ConfigPath
	if path == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("cannot resolve home directory: %w", err)
		}
		path = filepath.Join(homeDir, ".config", "nwf", "config.toml")
	}

	if _, err := os.Stat(path); err == nil && !opts.Force {
		return fmt.Errorf("config already exists at %s (use --force to overwrite)", path)
	}

	cfg := config.DefaultConfig()
	applyInitFlags(cfg, opts)

	if !IsNoTUI() {
		if err := initForm(cfg, opts); err != nil {
			return fmt.Errorf("form error: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	if err := config.Write(path, cfg); err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", path)

	if opts.Sample {
		name := opts.Name
		if name == "" {
			if wd, err := os.Getwd(); err == nil {
				name = filepath.Base(wd)
			} else {
				name = "pipeline"
			}
		}
		if err := writeSample("nwf.yml", name, opts.Force); err != nil {
			return err
		}
		fmt.Println("wrote nwf.yml")
	}

	return nil
}

func applyInitFlags(cfg *config.Config, opts *InitOptions) {
	if opts.Workdir != "" {
		cfg.Paths.Workdir = opts.Workdir
	}
	if opts.CacheDir != "" {
		cfg.Paths.CacheDir = opts.CacheDir
	}
	if opts.Shell != "" {
		cfg.Runner.Shell = opts.Shell
	}
	if opts.Parallelism > 0 {
		cfg.Runner.Parallelism = opts.Parallelism
	}
}

// initForm collects the main settings interactively, pre-filled with
// the current values.
func initForm(cfg *config.Config, opts *InitOptions) error {
	parallelism := strconv.Itoa(cfg.Runner.Parallelism)

	if err := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Working directory").
				Description("Root for per-run job working directories").
				Value(&cfg.Paths.Workdir),
			huh.NewInput().
				Title("Cache directory").
				Description("Where saved caches live between runs").
				Value(&cfg.Paths.CacheDir),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Default shell").
				Options(
					huh.NewOption("sh", "sh"),
					huh.NewOption("bash", "bash"),
					huh.NewOption("zsh", "zsh"),
					huh.NewOption("pwsh", "pwsh"),
				).
				Value(&cfg.Runner.Shell),
			huh.NewInput().
				Title("Parallelism").
				Description("Max jobs running at once").
				Value(&parallelism).
				Validate(func(s string) error {
					n, err := strconv.Atoi(s)
					if err != nil || n < 1 {
						return fmt.Errorf("must be a positive number")
					}
					return nil
				}),
			huh.NewConfirm().
				Title("Live status board?").
				Description("Show job states in a TUI while running").
				Value(&cfg.TUI.Enabled),
		),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Write a starter nwf.yml here?").
				Value(&opts.Sample),
			huh.NewInput().
				Title("Pipeline name").
				Description("Used if a starter nwf.yml is written").
				Value(&opts.Name),
		),
	).Run(); err != nil {
		return err
	}

	if n, err := strconv.Atoi(parallelism); err == nil {
		cfg.Runner.Parallelism = n
	}
	return nil
}

func writeSample(path, name string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	return os.WriteFile(path, []byte(fmt.Sprintf(samplePipeline, name)), 0644)
}
