// Package cli provides Cobra command definitions for nwf.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rodaine/table"
	"github.com/spf13/cobra"

	"github.com/wiheto/niworkflows/internal/history"
)

// HistoryOptions contains the options for the history command.
type HistoryOptions struct {
	ConfigPath string
	Limit      int
	Format     string
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand() *cobra.Command {
	opts := &HistoryOptions{}

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "Show past pipeline runs",
		Long: `Show recorded pipeline runs, newest first.

With a run ID, shows the per-job detail of that run. Use "latest"
as the ID for the most recent run.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return runHistoryShow(opts, args[0])
			}
			return runHistoryList(opts)
		},
	}

	cmd.Flags().StringVar(&opts.ConfigPath, "config", "", "config file path")
	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 20, "max runs to show")
	cmd.Flags().StringVar(&opts.Format, "format", "table", "output format (table, json)")

	return cmd
}

func openHistory(configPath string) (*history.Store, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	store, err := history.Open(cfg.Paths.HistoryPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}
	return store, nil
}

func runHistoryList(opts *HistoryOptions) error {
	store, err := openHistory(opts.ConfigPath)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.List(context.Background(), opts.Limit)
	if err != nil {
		return err
	}

	if opts.Format == "json" {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(runs)
	}

	tbl := table.New("RUN", "PIPELINE", "REF", "RESULT", "STARTED", "DURATION")
	for _, r := range runs {
		tbl.AddRow(r.ID, r.Pipeline, refLabel(r), resultLabel(r),
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			r.Duration.Truncate(time.Millisecond))
	}
	tbl.Print()
	return nil
}

func runHistoryShow(opts *HistoryOptions, id string) error {
	store, err := openHistory(opts.ConfigPath)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	var run *history.Run
	if id == "latest" {
		run, err = store.Latest(ctx)
	} else {
		run, err = store.Get(ctx, id)
	}
	if err != nil {
		if errors.Is(err, history.ErrRunNotFound) {
			fmt.Fprintf(os.Stderr, "run not found: %s\n", id)
			os.Exit(2)
		}
		return err
	}

	if opts.Format == "json" {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(run)
	}

	fmt.Printf("%s  %s  %s  %s\n\n", run.ID, run.Pipeline, refLabel(*run), resultLabel(*run))
	tbl := table.New("JOB", "STATE", "EXIT", "DURATION", "ERROR")
	for _, j := range run.Jobs {
		tbl.AddRow(j.Name, j.State, j.ExitCode, j.Duration.Truncate(time.Millisecond), j.Error)
	}
	tbl.Print()
	return nil
}

func refLabel(r history.Run) string {
	if r.Tag != "" {
		return "tag:" + r.Tag
	}
	return r.Branch
}

func resultLabel(r history.Run) string {
	switch {
	case r.Canceled:
		return "canceled"
	case r.Success:
		return "success"
	default:
		return "failed"
	}
}
