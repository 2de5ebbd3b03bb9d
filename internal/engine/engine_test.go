package engine

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	nwferrors "github.com/wiheto/niworkflows/internal/errors"
	"github.com/wiheto/niworkflows/internal/pipeline"
	"github.com/wiheto/niworkflows/internal/scheduler"
)

func loadPipeline(t *testing.T, doc string) *pipeline.Pipeline {
	t.Helper()
	p, err := pipeline.Unmarshal([]byte(doc))
	require.NoError(t, err)
	return p
}

func testOptions(t *testing.T, p *pipeline.Pipeline) Options {
	t.Helper()
	return Options{
		Pipeline: p,
		Ref:      pipeline.Ref{Branch: "main"},
		Workdir:  t.TempDir(),
		CacheDir: t.TempDir(),
		Shell:    "sh",
	}
}

func TestRunLinearPipeline(t *testing.T) {
	p := loadPipeline(t, `
name: linear
jobs:
  build:
    steps:
      - run: echo building > out.txt
      - persist_workspace:
          paths: [out.txt]
  test:
    steps:
      - attach_workspace:
          required: true
      - run: grep building out.txt
workflow:
  jobs:
    - build
    - test:
        requires: [build]
`)

	res, err := Run(context.Background(), testOptions(t, p))
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.NotEmpty(t, res.RunID)
	require.Len(t, res.Jobs, 2)
	assert.Equal(t, "build", res.Jobs[0].Name)
	assert.Equal(t, scheduler.StateSucceeded, res.Jobs[0].State)
	assert.Equal(t, scheduler.StateSucceeded, res.Jobs[1].State)
	assert.Equal(t, 0, ExitCode(res))
}

func TestRunFailureSkipsDependents(t *testing.T) {
	p := loadPipeline(t, `
name: failing
jobs:
  build:
    steps:
      - run: exit 9
  test:
    steps:
      - run: echo never
  report:
    steps:
      - run: echo never
workflow:
  jobs:
    - build
    - test:
        requires: [build]
    - report:
        requires: [test]
`)

	res, err := Run(context.Background(), testOptions(t, p))
	require.NoError(t, err)

	assert.False(t, res.Success)
	byName := summariesByName(res)
	assert.Equal(t, scheduler.StateFailed, byName["build"].State)
	assert.Equal(t, 9, byName["build"].ExitCode)
	assert.Equal(t, scheduler.StateSkipped, byName["test"].State)
	assert.Equal(t, scheduler.StateSkipped, byName["report"].State)
	assert.Equal(t, 20, ExitCode(res))
}

func TestRunParallelJobs(t *testing.T) {
	p := loadPipeline(t, `
name: wide
jobs:
  a:
    steps: [sleep 0.2]
  b:
    steps: [sleep 0.2]
  c:
    steps: [sleep 0.2]
workflow:
  jobs: [a, b, c]
`)

	opts := testOptions(t, p)
	opts.Parallelism = 3

	start := time.Now()
	res, err := Run(context.Background(), opts)
	require.NoError(t, err)
	elapsed := time.Since(start)

	assert.True(t, res.Success)
	assert.Less(t, elapsed, 500*time.Millisecond,
		"independent jobs must run in parallel, not serially")
}

func TestRunRespectsParallelismBound(t *testing.T) {
	p := loadPipeline(t, `
name: bounded
jobs:
  a:
    steps: [sleep 0.1]
  b:
    steps: [sleep 0.1]
  c:
    steps: [sleep 0.1]
  d:
    steps: [sleep 0.1]
workflow:
  jobs: [a, b, c, d]
`)

	opts := testOptions(t, p)
	opts.Parallelism = 1

	var mu sync.Mutex
	running := 0
	maxRunning := 0
	opts.Notify = func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		switch ev.State {
		case scheduler.StateRunning:
			running++
			if running > maxRunning {
				maxRunning = running
			}
		case scheduler.StateSucceeded, scheduler.StateFailed:
			running--
		}
	}

	res, err := Run(context.Background(), opts)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 1, maxRunning)
}

func TestRunFilteredJobSkipped(t *testing.T) {
	p := loadPipeline(t, `
name: filtered
jobs:
  build:
    steps: [echo hi]
  deploy:
    steps: [echo deploying]
workflow:
  jobs:
    - build
    - deploy:
        requires: [build]
        filters:
          branches:
            only: [main]
`)

	opts := testOptions(t, p)
	opts.Ref = pipeline.Ref{Branch: "feature/x"}

	res, err := Run(context.Background(), opts)
	require.NoError(t, err)

	assert.True(t, res.Success, "a filtered-out job is skipped, not failed")
	byName := summariesByName(res)
	assert.Equal(t, scheduler.StateSucceeded, byName["build"].State)
	assert.Equal(t, scheduler.StateSkipped, byName["deploy"].State)
}

func TestRunCycleFailsBeforeExecution(t *testing.T) {
	p := &pipeline.Pipeline{
		Name: "cyclic",
		Jobs: map[string]*pipeline.Job{
			"a": {Name: "a", Steps: pipeline.StepList{&pipeline.RunStep{Command: "echo a"}}},
			"b": {Name: "b", Steps: pipeline.StepList{&pipeline.RunStep{Command: "echo b"}}},
		},
	}
	p.Workflow.Jobs = []pipeline.WorkflowJob{
		{Name: "a", Requires: []string{"b"}},
		{Name: "b", Requires: []string{"a"}},
	}

	_, err := Run(context.Background(), testOptions(t, p))
	require.Error(t, err)
	assert.True(t, nwferrors.IsCycle(err))
	assert.True(t, IsPreflightError(err))
}

func TestRunCancellation(t *testing.T) {
	p := loadPipeline(t, `
name: cancelable
jobs:
  slow:
    steps: [sleep 10]
  after:
    steps: [echo never]
workflow:
  jobs:
    - slow
    - after:
        requires: [slow]
`)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	res, err := Run(ctx, testOptions(t, p))
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.True(t, res.Canceled)
	byName := summariesByName(res)
	assert.Equal(t, scheduler.StateFailed, byName["slow"].State)
	assert.Equal(t, scheduler.StateSkipped, byName["after"].State)
	assert.Equal(t, 13, ExitCode(res))
}

func TestRunJobTimeout(t *testing.T) {
	p := loadPipeline(t, `
name: slowpoke
jobs:
  slow:
    timeout: 200ms
    steps: [sleep 10]
  after:
    steps: [echo never]
workflow:
  jobs:
    - slow
    - after:
        requires: [slow]
`)

	res, err := Run(context.Background(), testOptions(t, p))
	require.NoError(t, err)

	assert.False(t, res.Success)
	byName := summariesByName(res)
	assert.Equal(t, scheduler.StateFailed, byName["slow"].State)
	assert.True(t, nwferrors.IsTimeout(byName["slow"].Err))
	assert.Equal(t, scheduler.StateSkipped, byName["after"].State)
}

func TestRunWritesJobLogs(t *testing.T) {
	p := loadPipeline(t, `
name: logged
jobs:
  build:
    steps: [echo hello log]
workflow:
  jobs: [build]
`)

	opts := testOptions(t, p)
	opts.LogDir = filepath.Join(t.TempDir(), "logs")

	res, err := Run(context.Background(), opts)
	require.NoError(t, err)
	require.True(t, res.Success)

	data, err := os.ReadFile(res.Jobs[0].LogPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello log")
}

func TestRunCacheAcrossJobs(t *testing.T) {
	p := loadPipeline(t, `
name: cached
jobs:
  warm:
    steps:
      - run: echo payload > dep.txt
      - save_cache:
          key: v1-{{ branch }}-deps
          paths: [dep.txt]
  reuse:
    steps:
      - restore_cache:
          keys:
            - v1-{{ branch }}-deps
            - v1-{{ branch }}-
            - v1-
      - run: grep payload dep.txt
workflow:
  jobs:
    - warm
    - reuse:
        requires: [warm]
`)

	res, err := Run(context.Background(), testOptions(t, p))
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestFailedJobSurfacesOutput(t *testing.T) {
	p := loadPipeline(t, `
name: noisy
jobs:
  build:
    steps:
      - run: echo diagnostics here; exit 1
workflow:
  jobs: [build]
`)

	res, err := Run(context.Background(), testOptions(t, p))
	require.NoError(t, err)

	require.False(t, res.Success)
	assert.Contains(t, res.Jobs[0].Output, "diagnostics here")
}

func TestRunCollidingJobNamesStayIsolated(t *testing.T) {
	p := loadPipeline(t, `
name: colliding
jobs:
  build_test:
    steps:
      - run: echo underscore > who.txt
      - persist_workspace:
          paths: [who.txt]
  build-test:
    steps:
      - run: echo hyphen > who.txt
      - persist_workspace:
          paths: [who.txt]
  check:
    steps:
      - attach_workspace:
          required: true
      - run: grep underscore who.txt
workflow:
  jobs:
    - build_test
    - build-test
    - check:
        requires: [build_test]
`)

	opts := testOptions(t, p)
	res, err := Run(context.Background(), opts)
	require.NoError(t, err)
	assert.True(t, res.Success)

	first, err := os.ReadFile(filepath.Join(opts.Workdir, "build-test", "who.txt"))
	require.NoError(t, err)
	second, err := os.ReadFile(filepath.Join(opts.Workdir, "build-test-1", "who.txt"))
	require.NoError(t, err)
	assert.NotEqual(t, string(first), string(second))
}

func summariesByName(res *RunResult) map[string]JobSummary {
	out := make(map[string]JobSummary, len(res.Jobs))
	for _, j := range res.Jobs {
		out[j.Name] = j
	}
	return out
}
