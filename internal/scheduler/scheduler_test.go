package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	nwferrors "github.com/wiheto/niworkflows/internal/errors"
	"github.com/wiheto/niworkflows/internal/pipeline"
)

// buildPipeline assembles a minimal pipeline whose workflow wiring is
// the only thing under test.
func buildPipeline(t *testing.T, jobs []pipeline.WorkflowJob) *pipeline.Pipeline {
	t.Helper()
	p := &pipeline.Pipeline{
		Name: "test",
		Jobs: make(map[string]*pipeline.Job, len(jobs)),
	}
	for _, wj := range jobs {
		p.Jobs[wj.Name] = &pipeline.Job{
			Name:  wj.Name,
			Steps: pipeline.StepList{&pipeline.RunStep{Command: "true"}},
		}
	}
	p.Workflow.Jobs = jobs
	require.NoError(t, p.Validate())
	return p
}

func mainRef() pipeline.Ref { return pipeline.Ref{Branch: "main"} }

func TestReadyRespectsRequires(t *testing.T) {
	p := buildPipeline(t, []pipeline.WorkflowJob{
		{Name: "build"},
		{Name: "test", Requires: []string{"build"}},
		{Name: "deploy", Requires: []string{"test"}},
	})
	s, err := New(p, mainRef())
	require.NoError(t, err)

	assert.Equal(t, []string{"build"}, s.Ready())

	require.NoError(t, s.Start("build"))
	assert.Empty(t, s.Ready())

	require.NoError(t, s.Succeed("build"))
	assert.Equal(t, []string{"test"}, s.Ready())
}

func TestIndependentJobsReadyTogether(t *testing.T) {
	p := buildPipeline(t, []pipeline.WorkflowJob{
		{Name: "lint"},
		{Name: "build"},
		{Name: "package", Requires: []string{"build", "lint"}},
	})
	s, err := New(p, mainRef())
	require.NoError(t, err)

	assert.Equal(t, []string{"build", "lint"}, s.Ready())
}

func TestFailureCascadesAsSkip(t *testing.T) {
	p := buildPipeline(t, []pipeline.WorkflowJob{
		{Name: "a"},
		{Name: "b", Requires: []string{"a"}},
		{Name: "c", Requires: []string{"b"}},
		{Name: "d"},
	})
	s, err := New(p, mainRef())
	require.NoError(t, err)

	require.NoError(t, s.Start("a"))
	require.NoError(t, s.Fail("a"))

	assert.Equal(t, StateFailed, s.State("a"))
	assert.Equal(t, StateSkipped, s.State("b"))
	assert.Equal(t, StateSkipped, s.State("c"))
	// Unrelated job is untouched.
	assert.Equal(t, StatePending, s.State("d"))

	// A skipped dependent can never reach success.
	assert.Error(t, s.Start("b"))
}

func TestFilterSkipIsNotFailure(t *testing.T) {
	p := buildPipeline(t, []pipeline.WorkflowJob{
		{Name: "build"},
		{
			Name:     "deploy",
			Requires: []string{"build"},
			Filters: pipeline.Filters{
				Branches: pipeline.FilterList{Only: []string{"main"}},
			},
		},
	})

	s, err := New(p, pipeline.Ref{Branch: "feature/x"})
	require.NoError(t, err)

	assert.Equal(t, StateSkipped, s.State("deploy"))
	assert.Equal(t, StatePending, s.State("build"))
	assert.True(t, s.Success(), "filtered-out jobs must not count as failures")
}

func TestFilterSkipCascades(t *testing.T) {
	p := buildPipeline(t, []pipeline.WorkflowJob{
		{
			Name: "build",
			Filters: pipeline.Filters{
				Branches: pipeline.FilterList{Only: []string{"main"}},
			},
		},
		{Name: "test", Requires: []string{"build"}},
		{Name: "report", Requires: []string{"test"}},
	})

	s, err := New(p, pipeline.Ref{Branch: "dev"})
	require.NoError(t, err)

	assert.Equal(t, StateSkipped, s.State("build"))
	assert.Equal(t, StateSkipped, s.State("test"))
	assert.Equal(t, StateSkipped, s.State("report"))
	assert.True(t, s.Done())
}

func TestTagRun(t *testing.T) {
	p := buildPipeline(t, []pipeline.WorkflowJob{
		{Name: "build"},
		{
			Name:     "release",
			Requires: []string{"build"},
			Filters: pipeline.Filters{
				Tags: pipeline.FilterList{Only: []string{`v\d+.*`}},
			},
		},
	})

	// Tag run: plain jobs are skipped, tag-filtered jobs stay pending;
	// but release requires build, which is skipped, so it cascades.
	s, err := New(p, pipeline.Ref{Tag: "v1.2.0"})
	require.NoError(t, err)
	assert.Equal(t, StateSkipped, s.State("build"))
	assert.Equal(t, StateSkipped, s.State("release"))
}

func TestCycleYieldsError(t *testing.T) {
	p := buildPipeline(t, []pipeline.WorkflowJob{
		{Name: "a", Requires: []string{"b"}},
		{Name: "b", Requires: []string{"a"}},
	})
	_, err := New(p, mainRef())
	require.Error(t, err)
	assert.True(t, nwferrors.IsCycle(err))
}

func TestCancelSkipsPending(t *testing.T) {
	p := buildPipeline(t, []pipeline.WorkflowJob{
		{Name: "a"},
		{Name: "b", Requires: []string{"a"}},
	})
	s, err := New(p, mainRef())
	require.NoError(t, err)

	require.NoError(t, s.Start("a"))
	s.Cancel()

	assert.Equal(t, StateRunning, s.State("a"))
	assert.Equal(t, StateSkipped, s.State("b"))

	require.NoError(t, s.Succeed("a"))
	assert.True(t, s.Done())
}

func TestInvalidTransitions(t *testing.T) {
	p := buildPipeline(t, []pipeline.WorkflowJob{{Name: "a"}})
	s, err := New(p, mainRef())
	require.NoError(t, err)

	assert.Error(t, s.Succeed("a"), "pending cannot succeed directly")
	assert.Error(t, s.Fail("a"), "pending cannot fail directly")
	assert.Error(t, s.Start("ghost"))

	require.NoError(t, s.Start("a"))
	assert.Error(t, s.Start("a"), "running cannot start again")
	require.NoError(t, s.Succeed("a"))
	assert.Error(t, s.Fail("a"), "terminal states are final")
}

func TestDoneAndSuccess(t *testing.T) {
	p := buildPipeline(t, []pipeline.WorkflowJob{
		{Name: "a"},
		{Name: "b", Requires: []string{"a"}},
	})
	s, err := New(p, mainRef())
	require.NoError(t, err)

	assert.False(t, s.Done())

	require.NoError(t, s.Start("a"))
	require.NoError(t, s.Fail("a"))

	assert.True(t, s.Done())
	assert.False(t, s.Success())

	states := s.States()
	assert.Equal(t, StateFailed, states["a"])
	assert.Equal(t, StateSkipped, states["b"])
}
