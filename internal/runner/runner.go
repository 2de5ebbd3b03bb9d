// Package runner executes one job: its steps strictly in declared
// order, with cache and workspace steps dispatched to their stores, and
// always-run steps executing even after an earlier failure.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wiheto/niworkflows/internal/cache"
	nwferrors "github.com/wiheto/niworkflows/internal/errors"
	"github.com/wiheto/niworkflows/internal/pipeline"
	"github.com/wiheto/niworkflows/internal/runtime"
	"github.com/wiheto/niworkflows/internal/workspace"
)

// Runner executes jobs.
type Runner interface {
	// RunJob executes a job to completion and reports the result.
	// requires names the jobs whose workspace snapshots an
	// attach_workspace step should mount.
	RunJob(ctx context.Context, job *pipeline.Job, requires []string, sink OutputSink) JobResult
}

// JobResult contains the result of one job execution.
type JobResult struct {
	Job         string
	Success     bool
	TimedOut    bool
	Canceled    bool
	FailedStep  int
	ExitCode    int
	StepResults []StepResult
	Duration    time.Duration
	Err         error
}

// StepResult contains the result of a single step.
type StepResult struct {
	Index    int
	Label    string
	Kind     pipeline.StepKind
	Success  bool
	Skipped  bool
	ExitCode int
	Output   string
	Duration time.Duration
	Err      error
}

// Options configure a job runner for one run.
type Options struct {
	// Pipeline provides defaults and the pipeline name for cache keys.
	Pipeline *pipeline.Pipeline
	// Ref is the branch/tag that triggered the run.
	Ref pipeline.Ref
	// Root is the job's working directory (isolated per job).
	Root string
	// Shell is the fallback shell when neither job nor step sets one.
	Shell string
	// DockerBinary overrides the docker CLI for container jobs.
	DockerBinary string
	// Cache is the cache store; required if the job has cache steps.
	Cache cache.Store
	// Workspace propagates snapshots; required for workspace steps.
	Workspace workspace.Propagator
}

// jobRunner implements Runner.
type jobRunner struct {
	opts Options
}

// New creates a job runner.
func New(opts Options) Runner {
	if opts.Shell == "" {
		opts.Shell = "bash"
	}
	return &jobRunner{opts: opts}
}

// RunJob executes the job's steps strictly in order. The first failing
// step aborts the remaining steps and fails the job; steps whose
// AlwaysRuns reports true execute regardless of prior failure.
func (r *jobRunner) RunJob(ctx context.Context, job *pipeline.Job, requires []string, sink OutputSink) JobResult {
	start := time.Now()
	if sink == nil {
		sink = discardSink{}
	}

	result := JobResult{
		Job:         job.Name,
		FailedStep:  -1,
		StepResults: make([]StepResult, 0, len(job.Steps)),
	}

	if r.opts.Pipeline != nil {
		r.opts.Pipeline.ApplyDefaults(job)
	}

	jobCtx := ctx
	if job.Timeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, job.Timeout.Std())
		defer cancel()
	}

	failed := false
	for i, step := range job.Steps {
		if failed && !step.AlwaysRuns() {
			result.StepResults = append(result.StepResults, StepResult{
				Index: i, Label: step.Label(), Kind: step.Kind(), Skipped: true,
			})
			continue
		}

		sr := r.runStep(jobCtx, job, step, requires, sink)
		sr.Index = i
		result.StepResults = append(result.StepResults, sr)

		if !sr.Success && !sr.Skipped {
			if !failed {
				failed = true
				result.FailedStep = i
				result.ExitCode = sr.ExitCode
				result.Err = sr.Err
			}
			switch {
			case errors.Is(sr.Err, context.DeadlineExceeded), nwferrors.IsTimeout(sr.Err):
				result.TimedOut = true
				result.Err = fmt.Errorf("%w: %s", nwferrors.ErrTimeout, step.Label())
			case errors.Is(sr.Err, context.Canceled):
				result.Canceled = true
				result.Err = nwferrors.ErrCanceled
			}
		}
	}

	result.Success = !failed
	result.Duration = time.Since(start)
	return result
}

// runStep dispatches on the step variant.
func (r *jobRunner) runStep(ctx context.Context, job *pipeline.Job, step pipeline.Step, requires []string, sink OutputSink) StepResult {
	start := time.Now()
	sr := StepResult{Label: step.Label(), Kind: step.Kind()}

	switch s := step.(type) {
	case *pipeline.RunStep:
		return r.runCommand(ctx, job, s, sink)

	case *pipeline.RestoreCacheStep:
		keys, err := cache.ExpandKeys(s.Keys, r.keyVars(job))
		if err != nil {
			sr.Err = &nwferrors.JobError{Job: job.Name, Err: err}
			break
		}
		entry, err := r.opts.Cache.Restore(keys, r.opts.Root)
		if nwferrors.IsCacheMiss(err) {
			// Cold start: the job proceeds without cached state.
			_ = sink.Write("cache: no entry matched, starting cold")
			sr.Success = true
			break
		}
		if err != nil {
			sr.Err = &nwferrors.JobError{Job: job.Name, Err: err}
			break
		}
		_ = sink.Write("cache: restored " + entry.Key)
		sr.Success = true

	case *pipeline.SaveCacheStep:
		key, err := cache.ExpandKey(s.Key, r.keyVars(job))
		if err != nil {
			sr.Err = &nwferrors.JobError{Job: job.Name, Err: err}
			break
		}
		err = r.opts.Cache.Save(key, r.opts.Root, s.Paths)
		if nwferrors.IsDuplicateKey(err) {
			// Reject-duplicate policy: an identical key is already
			// stored, nothing to do.
			_ = sink.Write("cache: key exists, skipping save " + key)
			sr.Success = true
			break
		}
		if err != nil {
			sr.Err = &nwferrors.JobError{Job: job.Name, Err: err}
			break
		}
		_ = sink.Write("cache: saved " + key)
		sr.Success = true

	case *pipeline.PersistWorkspaceStep:
		if err := r.opts.Workspace.Persist(job.Name, r.opts.Root, s.Paths); err != nil {
			sr.Err = &nwferrors.JobError{Job: job.Name, Err: err}
			break
		}
		_ = sink.Write("workspace: persisted")
		sr.Success = true

	case *pipeline.AttachWorkspaceStep:
		err := r.opts.Workspace.Attach(requires, r.opts.Root)
		if nwferrors.IsArtifactMissing(err) && !s.Required {
			_ = sink.Write("workspace: nothing to attach")
			sr.Success = true
			break
		}
		if err != nil {
			sr.Err = &nwferrors.JobError{Job: job.Name, Err: err}
			break
		}
		_ = sink.Write("workspace: attached")
		sr.Success = true

	default:
		sr.Err = fmt.Errorf("unhandled step kind %q", step.Kind())
	}

	sr.Duration = time.Since(start)
	return sr
}

// runCommand executes a run step through the job's runtime.
func (r *jobRunner) runCommand(ctx context.Context, job *pipeline.Job, step *pipeline.RunStep, sink OutputSink) StepResult {
	if step.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, step.Timeout.Std())
		defer cancel()
	}

	shell := step.Shell
	if shell == "" {
		shell = job.Shell
	}
	if shell == "" {
		shell = r.opts.Shell
	}

	cwd := step.CWD
	if cwd == "" {
		cwd = job.CWD
	}
	if cwd == "" {
		cwd = r.opts.Root
	}

	env := make(map[string]string, len(job.Env)+len(step.Env))
	for k, v := range job.Env {
		env[k] = v
	}
	for k, v := range step.Env {
		env[k] = v
	}

	rt := runtime.Select(job.Image, r.opts.DockerBinary)
	res := rt.Run(ctx, runtime.Spec{
		Command: step.Command,
		Shell:   shell,
		Image:   job.Image,
		CWD:     cwd,
		Env:     env,
	}, sinkAdapter{sink})

	sr := StepResult{
		Label:    step.Label(),
		Kind:     step.Kind(),
		Success:  res.Success,
		ExitCode: res.ExitCode,
		Output:   res.Output,
		Duration: res.Duration,
	}
	if !res.Success {
		sr.Err = &nwferrors.StepError{
			Job:      job.Name,
			Step:     step.Label(),
			ExitCode: res.ExitCode,
			Err:      res.Error,
		}
		if errors.Is(res.Error, context.DeadlineExceeded) || errors.Is(res.Error, context.Canceled) {
			sr.Err = res.Error
		}
	}
	return sr
}

func (r *jobRunner) keyVars(job *pipeline.Job) cache.KeyVars {
	vars := cache.KeyVars{
		Branch: r.opts.Ref.Branch,
		Tag:    r.opts.Ref.Tag,
		Job:    job.Name,
		Root:   r.opts.Root,
	}
	if r.opts.Pipeline != nil {
		vars.Pipeline = r.opts.Pipeline.Name
	}
	return vars
}

// sinkAdapter bridges OutputSink to the runtime's LineSink.
type sinkAdapter struct {
	sink OutputSink
}

func (a sinkAdapter) Write(line string) error { return a.sink.Write(line) }
