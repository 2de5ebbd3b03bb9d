// Package engine orchestrates one pipeline run: it pulls ready jobs
// from the scheduler, executes independent jobs in parallel on bounded
// workers, and feeds terminal states back until every job is settled.
package engine

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/wiheto/niworkflows/internal/cache"
	nwferrors "github.com/wiheto/niworkflows/internal/errors"
	"github.com/wiheto/niworkflows/internal/pipeline"
	"github.com/wiheto/niworkflows/internal/runner"
	"github.com/wiheto/niworkflows/internal/scheduler"
	"github.com/wiheto/niworkflows/internal/workspace"
)

// Options configure a run.
type Options struct {
	// Pipeline is the parsed, validated pipeline.
	Pipeline *pipeline.Pipeline
	// Ref is the branch/tag triggering the run.
	Ref pipeline.Ref
	// Workdir is the run's root directory; each job gets an isolated
	// subdirectory beneath it.
	Workdir string
	// CacheDir is the cache store location (shared across runs).
	CacheDir string
	// LogDir receives one log file per job.
	LogDir string
	// Parallelism bounds concurrently running jobs (default 4).
	Parallelism int
	// Shell is the fallback shell.
	Shell string
	// DockerBinary overrides the docker CLI for container jobs.
	DockerBinary string
	// Sink receives all job output, prefixed per job. May be nil.
	Sink runner.OutputSink
	// Notify observes job state changes (TUI, progress). May be nil.
	// Called from the dispatch goroutine, never concurrently.
	Notify func(Event)
}

// Event reports one job state change.
type Event struct {
	Job    string
	State  scheduler.State
	Result *runner.JobResult
}

// JobSummary is the terminal outcome of one job.
type JobSummary struct {
	Name     string
	State    scheduler.State
	ExitCode int
	Duration time.Duration
	LogPath  string
	Err      error
	Output   string
}

// RunResult summarizes one pipeline run.
type RunResult struct {
	RunID    string
	Pipeline string
	Ref      pipeline.Ref
	Success  bool
	Canceled bool
	Jobs     []JobSummary
	Duration time.Duration
}

type outcome struct {
	job string
	res runner.JobResult
}

// Run executes the pipeline to completion. Config and cycle errors
// return before any job starts; execution failures are reported in the
// RunResult, not as an error.
func Run(ctx context.Context, opts Options) (*RunResult, error) {
	sched, err := scheduler.New(opts.Pipeline, opts.Ref)
	if err != nil {
		return nil, err
	}

	parallelism := opts.Parallelism
	if parallelism <= 0 {
		parallelism = 4
	}

	// Distinct job names can slugify identically; a shared mapping
	// keeps workdirs, workspace slots, and log files per job.
	slugs := workspace.UniqueSlugs(sched.Graph().Nodes())
	ws := workspace.NewWithSlugs(filepath.Join(opts.Workdir, ".workspace"), slugs)
	store := cache.NewFileStore(opts.CacheDir)

	start := time.Now()
	result := &RunResult{
		RunID:    uuid.NewString(),
		Pipeline: opts.Pipeline.Name,
		Ref:      opts.Ref,
	}

	summaries := make(map[string]*JobSummary, len(opts.Pipeline.Workflow.Jobs))
	for _, name := range sched.Graph().Nodes() {
		summaries[name] = &JobSummary{Name: name, State: sched.State(name)}
		if sched.State(name) == scheduler.StateSkipped {
			notify(opts, Event{Job: name, State: scheduler.StateSkipped})
		}
	}

	results := make(chan outcome)
	inflight := 0
	canceled := false

	for !sched.Done() {
		if ctx.Err() != nil && !canceled {
			canceled = true
			sched.Cancel()
			for name, s := range summaries {
				if s.State == scheduler.StatePending && sched.State(name) == scheduler.StateSkipped {
					s.State = scheduler.StateSkipped
					notify(opts, Event{Job: name, State: scheduler.StateSkipped})
				}
			}
			continue
		}

		if ctx.Err() == nil {
			for _, name := range sched.Ready() {
				if inflight >= parallelism {
					break
				}
				if err := sched.Start(name); err != nil {
					return nil, err
				}
				inflight++
				summaries[name].State = scheduler.StateRunning
				notify(opts, Event{Job: name, State: scheduler.StateRunning})
				go runJob(ctx, opts, ws, store, name, slugs[name], results)
			}
		}

		if inflight == 0 {
			if sched.Done() {
				break
			}
			if sched.Stalled() {
				// Filters are applied up front, so a live run never
				// stalls; skip whatever is left.
				sched.Cancel()
			}
			continue
		}

		out := <-results
		inflight--

		s := summaries[out.job]
		s.ExitCode = out.res.ExitCode
		s.Duration = out.res.Duration
		s.Err = out.res.Err
		s.Output = failedOutput(out.res)
		s.LogPath = logPath(opts, slugs[out.job])

		if out.res.Success {
			if err := sched.Succeed(out.job); err != nil {
				return nil, err
			}
			s.State = scheduler.StateSucceeded
		} else {
			if err := sched.Fail(out.job); err != nil {
				return nil, err
			}
			s.State = scheduler.StateFailed
			if out.res.Canceled {
				result.Canceled = true
			}
		}
		notify(opts, Event{Job: out.job, State: s.State, Result: &out.res})

		// Failure cascades: surface freshly skipped dependents.
		for name, sum := range summaries {
			if sum.State == scheduler.StatePending && sched.State(name) == scheduler.StateSkipped {
				sum.State = scheduler.StateSkipped
				notify(opts, Event{Job: name, State: scheduler.StateSkipped})
			}
		}
	}

	result.Success = sched.Success() && !result.Canceled
	result.Duration = time.Since(start)
	if canceled {
		result.Canceled = true
		result.Success = false
	}

	order := sched.Graph().TopoOrder()
	for _, name := range order {
		result.Jobs = append(result.Jobs, *summaries[name])
	}
	return result, nil
}

// runJob prepares the job's isolated root and log sink and executes it.
func runJob(ctx context.Context, opts Options, ws workspace.Propagator, store cache.Store, name, slug string, results chan<- outcome) {
	job := opts.Pipeline.Jobs[name]
	root := filepath.Join(opts.Workdir, slug)
	if err := os.MkdirAll(root, 0o755); err != nil {
		results <- outcome{job: name, res: runner.JobResult{
			Job: name, FailedStep: -1, Err: &nwferrors.JobError{Job: name, Err: err},
		}}
		return
	}

	sinks := []runner.OutputSink{}
	if opts.Sink != nil {
		sinks = append(sinks, runner.NewPrefixSink(name, opts.Sink))
	}
	if opts.LogDir != "" {
		if fs, err := runner.NewFileSink(logPath(opts, slug)); err == nil {
			sinks = append(sinks, fs)
			defer fs.Close()
		}
	}

	var requires []string
	if wj, ok := opts.Pipeline.WorkflowJob(name); ok {
		requires = wj.Requires
	}

	r := runner.New(runner.Options{
		Pipeline:     opts.Pipeline,
		Ref:          opts.Ref,
		Root:         root,
		Shell:        opts.Shell,
		DockerBinary: opts.DockerBinary,
		Cache:        store,
		Workspace:    ws,
	})

	res := r.RunJob(ctx, job, requires, runner.NewMultiSink(sinks...))
	results <- outcome{job: name, res: res}
}

// failedOutput keeps the failing step's captured output for reporting.
func failedOutput(res runner.JobResult) string {
	if res.Success || res.FailedStep < 0 || res.FailedStep >= len(res.StepResults) {
		return ""
	}
	return res.StepResults[res.FailedStep].Output
}

func logPath(opts Options, slug string) string {
	if opts.LogDir == "" {
		return ""
	}
	return filepath.Join(opts.LogDir, slug+".log")
}

func notify(opts Options, ev Event) {
	if opts.Notify != nil {
		opts.Notify(ev)
	}
}

// ExitCode maps a run result to the process exit code: 0 success,
// 13 canceled, 20 any job failed.
func ExitCode(res *RunResult) int {
	switch {
	case res.Canceled:
		return 13
	case !res.Success:
		return 20
	default:
		return 0
	}
}

// IsPreflightError reports whether err precedes execution entirely
// (config or cycle), mapping to exit code 22 at the CLI.
func IsPreflightError(err error) bool {
	return nwferrors.IsConfig(err) || nwferrors.IsCycle(err)
}
