// Package cli provides Cobra command definitions for nwf.
package cli

import (
	"fmt"

	"github.com/wiheto/niworkflows/internal/config"
	"github.com/wiheto/niworkflows/internal/graph"
	"github.com/wiheto/niworkflows/internal/pipeline"
)

// DefaultPipelineFile is the pipeline file loaded when --file is not given.
const DefaultPipelineFile = "nwf.yml"

// Exit codes shared by the commands.
const (
	ExitJobFailed = 20
	ExitCanceled  = 13
	ExitConfig    = 22
)

// loadConfig loads the tool config from the given path, or from the
// default locations when the path is empty.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		return cfg, nil
	}
	cfg, err := config.LoadWithDefaults()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// loadPipeline parses and validates the pipeline file.
func loadPipeline(file string) (*pipeline.Pipeline, error) {
	if file == "" {
		file = DefaultPipelineFile
	}
	return pipeline.Load(file)
}

// buildGraph constructs the dependency graph for a validated pipeline.
func buildGraph(p *pipeline.Pipeline) (*graph.Graph, error) {
	requires := make(map[string][]string, len(p.Workflow.Jobs))
	for _, wj := range p.Workflow.Jobs {
		requires[wj.Name] = wj.Requires
	}
	return graph.Build(requires)
}

// resolveRef builds the triggering ref from the branch/tag flags.
// A tag wins over a branch; with neither set the ref defaults to the
// main branch.
func resolveRef(branch, tag string) pipeline.Ref {
	if tag != "" {
		return pipeline.Ref{Tag: tag}
	}
	if branch == "" {
		branch = "main"
	}
	return pipeline.Ref{Branch: branch}
}
