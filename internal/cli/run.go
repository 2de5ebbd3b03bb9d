// Package cli provides Cobra command definitions for nwf.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/wiheto/niworkflows/internal/engine"
	"github.com/wiheto/niworkflows/internal/history"
	"github.com/wiheto/niworkflows/internal/runner"
	"github.com/wiheto/niworkflows/internal/scheduler"
	"github.com/wiheto/niworkflows/internal/tui"
)

// RunOptions contains the options for the run command.
type RunOptions struct {
	ConfigPath  string
	File        string
	Branch      string
	Tag         string
	Parallelism int
	Workdir     string
	Quiet       bool
}

// NewRunCommand creates the run command.
func NewRunCommand() *cobra.Command {
	opts := &RunOptions{}

	cmd := &cobra.Command{
		Use:   "run [pipeline-file]",
		Short: "Run a pipeline",
		Long: `Execute all jobs of a pipeline in dependency order.

Jobs whose filters do not match the triggering branch or tag are
skipped, along with everything that requires them. A failing job
fails the run and skips its dependents; independent jobs keep going.

Exit codes: 0 (success), 20 (job failed), 13 (canceled),
22 (invalid pipeline or dependency cycle).`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				opts.File = args[0]
			}
			return runRun(opts)
		},
	}

	cmd.Flags().StringVar(&opts.ConfigPath, "config", "", "config file path")
	cmd.Flags().StringVarP(&opts.File, "file", "f", "", "pipeline file (default nwf.yml)")
	cmd.Flags().StringVar(&opts.Branch, "branch", "", "branch triggering the run (default main)")
	cmd.Flags().StringVar(&opts.Tag, "tag", "", "tag triggering the run")
	cmd.Flags().IntVar(&opts.Parallelism, "parallelism", 0, "max jobs running at once (overrides config)")
	cmd.Flags().StringVar(&opts.Workdir, "workdir", "", "run root directory (overrides config)")
	cmd.Flags().BoolVarP(&opts.Quiet, "quiet", "q", false, "suppress streamed step output")

	return cmd
}

func runRun(opts *RunOptions) error {
	cfg, err := loadConfig(opts.ConfigPath)
	if err != nil {
		return err
	}

	p, err := loadPipeline(opts.File)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(ExitConfig)
	}

	g, err := buildGraph(p)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(ExitConfig)
	}

	ref := resolveRef(opts.Branch, opts.Tag)

	parallelism := cfg.Runner.Parallelism
	if opts.Parallelism > 0 {
		parallelism = opts.Parallelism
	}

	workRoot := cfg.Paths.Workdir
	if opts.Workdir != "" {
		workRoot = opts.Workdir
	}
	runStamp := time.Now().Format("20060102-150405")
	startedAt := time.Now()

	eopts := engine.Options{
		Pipeline:     p,
		Ref:          ref,
		Workdir:      filepath.Join(workRoot, runStamp),
		CacheDir:     cfg.Paths.CacheDir,
		LogDir:       filepath.Join(cfg.Paths.LogDir, runStamp),
		Parallelism:  parallelism,
		Shell:        cfg.Runner.Shell,
		DockerBinary: cfg.Runner.DockerBinary,
	}

	var res *engine.RunResult
	if cfg.TUI.Enabled && !IsNoTUI() {
		res, err = runWithBoard(p.Name, g.TopoOrder(), eopts)
	} else {
		res, err = runPlain(eopts, cfg.Runner.StreamOutput && !opts.Quiet)
	}
	if err != nil {
		if engine.IsPreflightError(err) {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(ExitConfig)
		}
		return err
	}

	recordRun(cfg.Paths.HistoryPath, res, startedAt)

	if code := engine.ExitCode(res); code != 0 {
		os.Exit(code)
	}
	return nil
}

// runWithBoard runs the engine behind a live Bubble Tea status board.
func runWithBoard(name string, order []string, eopts engine.Options) (*engine.RunResult, error) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan engine.Event, 64)
	done := make(chan tui.BoardDoneMsg, 1)
	eopts.Notify = func(ev engine.Event) { events <- ev }

	go func() {
		res, err := engine.Run(ctx, eopts)
		close(events)
		done <- tui.BoardDoneMsg{Result: res, Err: err}
	}()

	board := tui.NewBoardModel(name, order, events, done, cancel)
	final, err := tea.NewProgram(board).Run()
	if err != nil {
		return nil, fmt.Errorf("status board error: %w", err)
	}

	return final.(tui.BoardModel).Result()
}

// runPlain runs the engine with streamed text output, canceling on
// SIGINT.
func runPlain(eopts engine.Options, stream bool) (*engine.RunResult, error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if stream {
		eopts.Sink = runner.NewStdioSink()
	}
	eopts.Notify = func(ev engine.Event) {
		switch ev.State {
		case scheduler.StateRunning:
			fmt.Printf("--> %s\n", ev.Job)
		case scheduler.StateSucceeded:
			fmt.Printf("ok  %s\n", ev.Job)
		case scheduler.StateFailed:
			fmt.Printf("FAIL %s\n", ev.Job)
		case scheduler.StateSkipped:
			fmt.Printf("skip %s\n", ev.Job)
		}
	}

	res, err := engine.Run(ctx, eopts)
	if err != nil {
		return nil, err
	}

	switch {
	case res.Canceled:
		fmt.Printf("\ncanceled after %s\n", res.Duration.Truncate(time.Millisecond))
	case res.Success:
		fmt.Printf("\nsuccess in %s\n", res.Duration.Truncate(time.Millisecond))
	default:
		fmt.Printf("\nfailed in %s\n", res.Duration.Truncate(time.Millisecond))
		for _, j := range res.Jobs {
			if j.State == scheduler.StateFailed && j.Err != nil {
				fmt.Printf("  %s: %v (log: %s)\n", j.Name, j.Err, j.LogPath)
			}
		}
	}

	return res, nil
}

// recordRun stores the result in the history database. History is
// best effort; a broken database must not change the run's outcome.
func recordRun(path string, res *engine.RunResult, startedAt time.Time) {
	store, err := history.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: history unavailable: %v\n", err)
		return
	}
	defer store.Close()

	if err := store.Record(context.Background(), res, startedAt); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to record run: %v\n", err)
	}
}
