package cli

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wiheto/niworkflows/internal/config"
	"github.com/wiheto/niworkflows/internal/pipeline"
)

func withNoTUI(t *testing.T) {
	t.Helper()
	t.Setenv("SHELL", "/bin/sh")
	prev := NoTUI
	NoTUI = true
	t.Cleanup(func() { NoTUI = prev })
}

func TestInitNonInteractive(t *testing.T) {
	withNoTUI(t)
	path := filepath.Join(t.TempDir(), "config.toml")

	opts := &InitOptions{
		ConfigPath:  path,
		Workdir:     filepath.Join(t.TempDir(), "work"),
		Shell:       "bash",
		Parallelism: 2,
	}
	require.NoError(t, runInit(opts))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "bash", cfg.Runner.Shell)
	assert.Equal(t, 2, cfg.Runner.Parallelism)
	assert.Equal(t, opts.Workdir, cfg.Paths.Workdir)
}

func TestInitRefusesOverwrite(t *testing.T) {
	withNoTUI(t)
	path := filepath.Join(t.TempDir(), "config.toml")

	require.NoError(t, runInit(&InitOptions{ConfigPath: path}))

	err := runInit(&InitOptions{ConfigPath: path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	assert.NoError(t, runInit(&InitOptions{ConfigPath: path, Force: true}))
}

func TestWriteSampleParses(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nwf.yml")
	require.NoError(t, writeSample(path, "demo", false))

	p, err := pipeline.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "demo", p.Name)
	assert.Len(t, p.Workflow.Jobs, 2)

	err = writeSample(path, "demo", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestApplyInitFlags(t *testing.T) {
	cfg := config.DefaultConfig()
	applyInitFlags(cfg, &InitOptions{Shell: "zsh", Parallelism: 6})
	assert.Equal(t, "zsh", cfg.Runner.Shell)
	assert.Equal(t, 6, cfg.Runner.Parallelism)

	// Unset flags leave defaults alone.
	before := cfg.Paths.CacheDir
	applyInitFlags(cfg, &InitOptions{})
	assert.Equal(t, before, cfg.Paths.CacheDir)
}
