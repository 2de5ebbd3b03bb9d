package pipeline

import (
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

// StepKind identifies a step variant.
type StepKind string

const (
	StepRun              StepKind = "run"
	StepRestoreCache     StepKind = "restore_cache"
	StepSaveCache        StepKind = "save_cache"
	StepPersistWorkspace StepKind = "persist_workspace"
	StepAttachWorkspace  StepKind = "attach_workspace"
)

// Step is a single instruction inside a job. Variants are dispatched
// through this interface rather than branching on a type string.
type Step interface {
	Kind() StepKind
	Validate() error
	// Label is the human-readable identifier used in logs and results.
	Label() string
	// AlwaysRuns reports whether the step executes even after a prior
	// step in the same job has failed.
	AlwaysRuns() bool
}

// RunStep executes a shell command.
type RunStep struct {
	Name      string            `yaml:"name,omitempty"`
	Command   string            `yaml:"command"`
	Shell     string            `yaml:"shell,omitempty"`
	CWD       string            `yaml:"cwd,omitempty"`
	Env       map[string]string `yaml:"env,omitempty"`
	Timeout   Duration          `yaml:"timeout,omitempty"`
	AlwaysRun bool              `yaml:"always_run,omitempty"`
}

func (s *RunStep) Kind() StepKind { return StepRun }

func (s *RunStep) Validate() error {
	if s.Command == "" {
		return errors.New("run step command is required")
	}
	return nil
}

func (s *RunStep) Label() string {
	if s.Name != "" {
		return s.Name
	}
	return s.Command
}

func (s *RunStep) AlwaysRuns() bool { return s.AlwaysRun }

// RestoreCacheStep restores the first cache entry matching one of Keys,
// scanning in order: exact match first, then longest matching prefix.
type RestoreCacheStep struct {
	Keys []string `yaml:"keys"`
}

func (s *RestoreCacheStep) Kind() StepKind { return StepRestoreCache }

func (s *RestoreCacheStep) Validate() error {
	if len(s.Keys) == 0 {
		return errors.New("restore_cache requires at least one key")
	}
	return nil
}

func (s *RestoreCacheStep) Label() string    { return "restore cache" }
func (s *RestoreCacheStep) AlwaysRuns() bool { return false }

// SaveCacheStep stores the given paths under Key. Saving to an existing
// key is a no-op (reject-duplicate policy).
type SaveCacheStep struct {
	Key   string   `yaml:"key"`
	Paths []string `yaml:"paths"`
}

func (s *SaveCacheStep) Kind() StepKind { return StepSaveCache }

func (s *SaveCacheStep) Validate() error {
	if s.Key == "" {
		return errors.New("save_cache key is required")
	}
	if len(s.Paths) == 0 {
		return errors.New("save_cache requires at least one path")
	}
	return nil
}

func (s *SaveCacheStep) Label() string    { return "save cache " + s.Key }
func (s *SaveCacheStep) AlwaysRuns() bool { return false }

// PersistWorkspaceStep snapshots paths for dependent jobs. It always
// runs so downstream jobs can inspect partial results.
type PersistWorkspaceStep struct {
	Paths []string `yaml:"paths"`
}

func (s *PersistWorkspaceStep) Kind() StepKind { return StepPersistWorkspace }

func (s *PersistWorkspaceStep) Validate() error {
	if len(s.Paths) == 0 {
		return errors.New("persist_workspace requires at least one path")
	}
	return nil
}

func (s *PersistWorkspaceStep) Label() string    { return "persist workspace" }
func (s *PersistWorkspaceStep) AlwaysRuns() bool { return true }

// AttachWorkspaceStep mounts the workspace snapshot produced by required
// jobs into this job's working directory.
type AttachWorkspaceStep struct {
	// Required makes a missing snapshot fatal. When false the job
	// proceeds without the workspace contents.
	Required bool `yaml:"required,omitempty"`
}

func (s *AttachWorkspaceStep) Kind() StepKind   { return StepAttachWorkspace }
func (s *AttachWorkspaceStep) Validate() error  { return nil }
func (s *AttachWorkspaceStep) Label() string    { return "attach workspace" }
func (s *AttachWorkspaceStep) AlwaysRuns() bool { return false }

// StepList is an ordered list of steps with custom YAML decoding.
//
// Accepted forms per element:
//
//	- echo hello                 # scalar shorthand for a run step
//	- run: echo hello            # run with just a command
//	- run:                       # run long form
//	    name: build
//	    command: go build ./...
//	- restore_cache: {keys: [...]}
//	- save_cache: {key: k, paths: [...]}
//	- persist_workspace: {paths: [...]}
//	- attach_workspace: {required: true}
type StepList []Step

// UnmarshalYAML decodes the tagged step variants.
func (sl *StepList) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.SequenceNode {
		return errors.New("steps must be a sequence")
	}
	steps := make([]Step, 0, len(value.Content))
	for i, node := range value.Content {
		step, err := decodeStep(node)
		if err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
		steps = append(steps, step)
	}
	*sl = steps
	return nil
}

// MarshalYAML renders each step as its tagged single-key form.
func (sl StepList) MarshalYAML() (interface{}, error) {
	out := make([]map[string]interface{}, 0, len(sl))
	for _, step := range sl {
		out = append(out, map[string]interface{}{string(step.Kind()): step})
	}
	return out, nil
}

func decodeStep(node *yaml.Node) (Step, error) {
	// Scalar shorthand: the whole element is a run command.
	if node.Kind == yaml.ScalarNode {
		var cmd string
		if err := node.Decode(&cmd); err != nil {
			return nil, err
		}
		step := &RunStep{Command: cmd}
		return step, step.Validate()
	}

	if node.Kind != yaml.MappingNode || len(node.Content) != 2 {
		return nil, errors.New("step must be a string or a single-key mapping")
	}

	var tag string
	if err := node.Content[0].Decode(&tag); err != nil {
		return nil, err
	}
	body := node.Content[1]

	var step Step
	switch StepKind(tag) {
	case StepRun:
		rs := &RunStep{}
		// "run: <command>" shorthand.
		if body.Kind == yaml.ScalarNode {
			if err := body.Decode(&rs.Command); err != nil {
				return nil, err
			}
		} else if err := body.Decode(rs); err != nil {
			return nil, err
		}
		step = rs
	case StepRestoreCache:
		rc := &RestoreCacheStep{}
		if err := body.Decode(rc); err != nil {
			return nil, err
		}
		step = rc
	case StepSaveCache:
		sc := &SaveCacheStep{}
		if err := body.Decode(sc); err != nil {
			return nil, err
		}
		step = sc
	case StepPersistWorkspace:
		pw := &PersistWorkspaceStep{}
		if err := body.Decode(pw); err != nil {
			return nil, err
		}
		step = pw
	case StepAttachWorkspace:
		aw := &AttachWorkspaceStep{}
		if body.Kind == yaml.MappingNode {
			if err := body.Decode(aw); err != nil {
				return nil, err
			}
		}
		step = aw
	default:
		return nil, fmt.Errorf("unknown step type %q", tag)
	}

	return step, step.Validate()
}
