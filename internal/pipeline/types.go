// Package pipeline defines the pipeline document model: jobs, steps,
// cache and workspace declarations, and the workflow wiring between jobs.
package pipeline

import (
	"errors"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// SchemaVersion is the current pipeline schema version
const SchemaVersion = 1

// Pipeline represents a full pipeline definition: named jobs plus the
// workflow section that wires them together via requires edges.
// A Pipeline is immutable once parsed.
type Pipeline struct {
	SchemaVersion int             `yaml:"schema_version"`
	Name          string          `yaml:"name"` // Required
	Description   string          `yaml:"description,omitempty"`
	Defaults      Defaults        `yaml:"defaults,omitempty"`
	Jobs          map[string]*Job `yaml:"jobs"`
	Workflow      Workflow        `yaml:"workflow"`
}

// Defaults specifies default values applied to every job.
type Defaults struct {
	Shell   string   `yaml:"shell,omitempty"`   // Default shell (bash, zsh, sh)
	Image   string   `yaml:"image,omitempty"`   // Default container image ("" = local shell)
	Timeout Duration `yaml:"timeout,omitempty"` // Default per-job wall-clock timeout
}

// Job is a unit of isolated execution composed of ordered steps.
type Job struct {
	Name    string            `yaml:"-"`                 // Filled from the jobs map key
	Image   string            `yaml:"image,omitempty"`   // Container image; empty means local shell
	Shell   string            `yaml:"shell,omitempty"`   // Override default shell
	CWD     string            `yaml:"cwd,omitempty"`     // Working directory for all steps
	Env     map[string]string `yaml:"env,omitempty"`     // Environment variables
	Timeout Duration          `yaml:"timeout,omitempty"` // Wall-clock budget for the whole job
	Steps   StepList          `yaml:"steps"`             // Required, ordered
}

// Workflow wires jobs into a dependency graph.
type Workflow struct {
	Jobs []WorkflowJob `yaml:"jobs"`
}

// WorkflowJob references a job by name and declares its requires edges
// and branch/tag filters.
type WorkflowJob struct {
	Name     string   `yaml:"-"`
	Requires []string `yaml:"requires,omitempty"`
	Filters  Filters  `yaml:"filters,omitempty"`
}

// UnmarshalYAML accepts either a bare job name or a single-key mapping
// of name to {requires, filters}.
func (wj *WorkflowJob) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		return value.Decode(&wj.Name)
	}
	if value.Kind != yaml.MappingNode || len(value.Content) != 2 {
		return errors.New("workflow job must be a name or a single-key mapping")
	}
	if err := value.Content[0].Decode(&wj.Name); err != nil {
		return err
	}
	var body struct {
		Requires []string `yaml:"requires"`
		Filters  Filters  `yaml:"filters"`
	}
	if err := value.Content[1].Decode(&body); err != nil {
		return err
	}
	wj.Requires = body.Requires
	wj.Filters = body.Filters
	return nil
}

// Duration wraps time.Duration with YAML string parsing ("90s", "30m").
type Duration time.Duration

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the duration as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Validate validates the pipeline structure and content.
func (p *Pipeline) Validate() error {
	if p.Name == "" {
		return errors.New("pipeline name is required")
	}
	if len(p.Jobs) == 0 {
		return errors.New("pipeline must define at least one job")
	}
	for name, job := range p.Jobs {
		if err := job.Validate(); err != nil {
			return fmt.Errorf("job %q: %w", name, err)
		}
	}
	if len(p.Workflow.Jobs) == 0 {
		return errors.New("workflow must reference at least one job")
	}
	seen := make(map[string]bool, len(p.Workflow.Jobs))
	for _, wj := range p.Workflow.Jobs {
		if wj.Name == "" {
			return errors.New("workflow job name is required")
		}
		if _, ok := p.Jobs[wj.Name]; !ok {
			return fmt.Errorf("workflow references undefined job %q", wj.Name)
		}
		if seen[wj.Name] {
			return fmt.Errorf("workflow references job %q more than once", wj.Name)
		}
		seen[wj.Name] = true
		for _, req := range wj.Requires {
			if !workflowContains(p.Workflow.Jobs, req) {
				return fmt.Errorf("job %q requires %q, which is not in the workflow", wj.Name, req)
			}
			if req == wj.Name {
				return fmt.Errorf("job %q requires itself", wj.Name)
			}
		}
		if err := wj.Filters.Validate(); err != nil {
			return fmt.Errorf("job %q: %w", wj.Name, err)
		}
	}
	return nil
}

// Validate validates a job.
func (j *Job) Validate() error {
	if len(j.Steps) == 0 {
		return errors.New("job must have at least one step")
	}
	for i, step := range j.Steps {
		if err := step.Validate(); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
	}
	return nil
}

// ApplyDefaults applies pipeline-level defaults to a job.
func (p *Pipeline) ApplyDefaults(job *Job) {
	if job.Shell == "" && p.Defaults.Shell != "" {
		job.Shell = p.Defaults.Shell
	}
	if job.Image == "" && p.Defaults.Image != "" {
		job.Image = p.Defaults.Image
	}
	if job.Timeout == 0 && p.Defaults.Timeout != 0 {
		job.Timeout = p.Defaults.Timeout
	}
}

// WorkflowJob returns the workflow entry for a job name, if present.
func (p *Pipeline) WorkflowJob(name string) (WorkflowJob, bool) {
	for _, wj := range p.Workflow.Jobs {
		if wj.Name == name {
			return wj, true
		}
	}
	return WorkflowJob{}, false
}

func workflowContains(jobs []WorkflowJob, name string) bool {
	for _, wj := range jobs {
		if wj.Name == name {
			return true
		}
	}
	return false
}
