// Package cli provides Cobra command definitions for nwf.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// ValidateOptions contains the options for the validate command.
type ValidateOptions struct {
	File string
}

// NewValidateCommand creates the validate command.
func NewValidateCommand() *cobra.Command {
	opts := &ValidateOptions{}

	cmd := &cobra.Command{
		Use:   "validate [pipeline-file]",
		Short: "Check a pipeline file without running it",
		Long: `Parse a pipeline file and check it for problems:
unknown job references, duplicate workflow entries, invalid filter
patterns, malformed steps, and dependency cycles.

Exit codes: 0 (valid), 22 (invalid).`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				opts.File = args[0]
			}
			return runValidate(opts)
		},
	}

	cmd.Flags().StringVarP(&opts.File, "file", "f", "", "pipeline file (default nwf.yml)")

	return cmd
}

func runValidate(opts *ValidateOptions) error {
	p, err := loadPipeline(opts.File)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(ExitConfig)
	}

	if _, err := buildGraph(p); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(ExitConfig)
	}

	fmt.Printf("%s: ok (%d jobs)\n", p.Name, len(p.Workflow.Jobs))
	return nil
}
