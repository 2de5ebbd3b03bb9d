package history

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wiheto/niworkflows/internal/engine"
	"github.com/wiheto/niworkflows/internal/pipeline"
	"github.com/wiheto/niworkflows/internal/scheduler"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleResult(id string, success bool) *engine.RunResult {
	state := scheduler.StateSucceeded
	if !success {
		state = scheduler.StateFailed
	}
	return &engine.RunResult{
		RunID:    id,
		Pipeline: "niworkflows",
		Ref:      pipeline.Ref{Branch: "main"},
		Success:  success,
		Duration: 3 * time.Second,
		Jobs: []engine.JobSummary{
			{Name: "build", State: scheduler.StateSucceeded, Duration: time.Second},
			{Name: "test", State: state, ExitCode: map[bool]int{true: 0, false: 2}[success], Duration: 2 * time.Second},
		},
	}
}

func TestRecordAndGet(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	started := time.Now().Add(-time.Minute)

	require.NoError(t, s.Record(ctx, sampleResult("run-1", true), started))

	run, err := s.Get(ctx, "run-1")
	require.NoError(t, err)

	assert.Equal(t, "niworkflows", run.Pipeline)
	assert.Equal(t, "main", run.Branch)
	assert.True(t, run.Success)
	assert.Equal(t, 3*time.Second, run.Duration)
	assert.WithinDuration(t, started, run.StartedAt, time.Second)

	require.Len(t, run.Jobs, 2)
	assert.Equal(t, "build", run.Jobs[0].Name)
	assert.Equal(t, scheduler.StateSucceeded, run.Jobs[0].State)
	assert.Equal(t, "test", run.Jobs[1].Name)
}

func TestListNewestFirst(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	require.NoError(t, s.Record(ctx, sampleResult("run-old", true), base))
	require.NoError(t, s.Record(ctx, sampleResult("run-new", false), base.Add(time.Minute)))

	runs, err := s.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-new", runs[0].ID)
	assert.Equal(t, "run-old", runs[1].ID)
	assert.False(t, runs[0].Success)
	assert.Empty(t, runs[0].Jobs, "List omits job detail")
}

func TestListLimit(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	base := time.Now()
	for i := 0; i < 5; i++ {
		res := sampleResult(string(rune('a'+i)), true)
		require.NoError(t, s.Record(ctx, res, base.Add(time.Duration(i)*time.Second)))
	}

	runs, err := s.List(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, runs, 3)
}

func TestGetMissingRun(t *testing.T) {
	s := openStore(t)
	_, err := s.Get(context.Background(), "nope")
	assert.True(t, errors.Is(err, ErrRunNotFound))
}

func TestLatest(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	_, err := s.Latest(ctx)
	assert.True(t, errors.Is(err, ErrRunNotFound))

	base := time.Now()
	require.NoError(t, s.Record(ctx, sampleResult("first", true), base))
	require.NoError(t, s.Record(ctx, sampleResult("second", true), base.Add(time.Second)))

	latest, err := s.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "second", latest.ID)
	assert.Len(t, latest.Jobs, 2)
}

func TestRecordJobError(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	res := sampleResult("with-error", false)
	res.Jobs[1].Err = errors.New("exit status 2")
	require.NoError(t, s.Record(ctx, res, time.Now()))

	run, err := s.Get(ctx, "with-error")
	require.NoError(t, err)
	assert.Equal(t, "exit status 2", run.Jobs[1].Error)
}
