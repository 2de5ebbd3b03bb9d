// Package cli provides Cobra command definitions for nwf.
package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wiheto/niworkflows/internal/scheduler"
)

// GraphOptions contains the options for the graph command.
type GraphOptions struct {
	File   string
	Branch string
	Tag    string
	Format string
}

// NewGraphCommand creates the graph command.
func NewGraphCommand() *cobra.Command {
	opts := &GraphOptions{}

	cmd := &cobra.Command{
		Use:   "graph [pipeline-file]",
		Short: "Print the job dependency graph",
		Long: `Print the pipeline's dependency graph in execution order.

Jobs whose filters do not match the given branch or tag are marked
skipped, along with everything that requires them.

Formats:
  text  jobs in execution order with their dependencies (default)
  dot   Graphviz dot, pipe into 'dot -Tsvg' to render`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				opts.File = args[0]
			}
			return runGraph(opts)
		},
	}

	cmd.Flags().StringVarP(&opts.File, "file", "f", "", "pipeline file (default nwf.yml)")
	cmd.Flags().StringVar(&opts.Branch, "branch", "", "branch to evaluate filters against (default main)")
	cmd.Flags().StringVar(&opts.Tag, "tag", "", "tag to evaluate filters against")
	cmd.Flags().StringVar(&opts.Format, "format", "text", "output format (text, dot)")

	return cmd
}

func runGraph(opts *GraphOptions) error {
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

	// The scheduler applies filter skips and their cascade for the ref.
	ref := resolveRef(opts.Branch, opts.Tag)
	sched, err := scheduler.New(p, ref)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(ExitConfig)
	}
	states := sched.States()

	switch opts.Format {
	case "text":
		for _, name := range g.TopoOrder() {
			line := name
			if deps := g.Dependencies(name); len(deps) > 0 {
				line += "  <- " + strings.Join(deps, ", ")
			}
			if states[name] == scheduler.StateSkipped {
				line += "  (skipped)"
			}
			fmt.Println(line)
		}
		return nil

	case "dot":
		fmt.Printf("digraph %q {\n", p.Name)
		for _, name := range g.TopoOrder() {
			if states[name] == scheduler.StateSkipped {
				fmt.Printf("  %q [style=dashed];\n", name)
			} else {
				fmt.Printf("  %q;\n", name)
			}
			for _, dep := range g.Dependencies(name) {
				fmt.Printf("  %q -> %q;\n", dep, name)
			}
		}
		fmt.Println("}")
		return nil

	default:
		return fmt.Errorf("unknown format %q (want text or dot)", opts.Format)
	}
}
