// Package cli provides Cobra command definitions for nwf.
package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/rodaine/table"
	"github.com/spf13/cobra"
)

// ListOptions contains the options for the list command.
type ListOptions struct {
	File   string
	Format string
}

// jobListing is the JSON shape for one workflow job.
type jobListing struct {
	Name     string   `json:"name"`
	Requires []string `json:"requires,omitempty"`
	Steps    int      `json:"steps"`
	Image    string   `json:"image,omitempty"`
}

// NewListCommand creates the list command for listing pipeline jobs.
func NewListCommand() *cobra.Command {
	opts := &ListOptions{}

	cmd := &cobra.Command{
		Use:   "list [pipeline-file]",
		Short: "List the jobs of a pipeline",
		Long: `List the workflow jobs of a pipeline with their dependencies.

Examples:
  nwf list                   # jobs of ./nwf.yml in a table
  nwf list --format json     # machine-readable output
  nwf list ci.yml            # jobs of a specific file`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				opts.File = args[0]
			}
			return runList(opts)
		},
	}

	cmd.Flags().StringVarP(&opts.File, "file", "f", "", "pipeline file (default nwf.yml)")
	cmd.Flags().StringVar(&opts.Format, "format", "table", "output format (table, json, plain)")

	return cmd
}

func runList(opts *ListOptions) error {
	p, err := loadPipeline(opts.File)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(ExitConfig)
	}

	listings := make([]jobListing, 0, len(p.Workflow.Jobs))
	for _, wj := range p.Workflow.Jobs {
		job := p.Jobs[wj.Name]
		listings = append(listings, jobListing{
			Name:     wj.Name,
			Requires: wj.Requires,
			Steps:    len(job.Steps),
			Image:    job.Image,
		})
	}

	switch opts.Format {
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(listings)

	case "plain":
		for _, l := range listings {
			fmt.Println(l.Name)
		}
		return nil

	case "table":
		tbl := table.New("JOB", "REQUIRES", "STEPS", "IMAGE")
		for _, l := range listings {
			tbl.AddRow(l.Name, strings.Join(l.Requires, ", "), l.Steps, l.Image)
		}
		tbl.Print()
		return nil

	default:
		return fmt.Errorf("unknown format %q (want table, json, or plain)", opts.Format)
	}
}
