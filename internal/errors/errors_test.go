package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSentinelErrors(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"config", ErrConfig, IsConfig},
		{"cycle", ErrCycle, IsCycle},
		{"artifact missing", ErrArtifactMissing, IsArtifactMissing},
		{"duplicate key", ErrDuplicateKey, IsDuplicateKey},
		{"cache miss", ErrCacheMiss, IsCacheMiss},
		{"timeout", ErrTimeout, IsTimeout},
		{"canceled", ErrCanceled, IsCanceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.check(tt.err))
			assert.True(t, tt.check(fmt.Errorf("outer: %w", tt.err)))
			assert.False(t, tt.check(errors.New("unrelated")))
		})
	}
}

func TestWrapPreservesIs(t *testing.T) {
	err := Wrap(ErrTimeout, "runJob")
	assert.True(t, IsTimeout(err))
	assert.Equal(t, "runJob: timeout exceeded", err.Error())
}

func TestStepError(t *testing.T) {
	inner := errors.New("exit status 2")
	err := &StepError{Job: "build", Step: "compile", ExitCode: 2, Err: inner}

	assert.Equal(t, `job "build" step "compile": exit 2: exit status 2`, err.Error())

	se, ok := AsStepError(fmt.Errorf("wrapped: %w", err))
	require.True(t, ok)
	assert.Equal(t, "build", se.Job)
	assert.Equal(t, 2, se.ExitCode)
}

func TestStepErrorWithoutName(t *testing.T) {
	err := &StepError{Job: "test", ExitCode: 1, Err: errors.New("exit status 1")}
	assert.Equal(t, `job "test": exit 1: exit status 1`, err.Error())
}

func TestJobError(t *testing.T) {
	err := &JobError{Job: "deploy", Err: ErrArtifactMissing}
	assert.True(t, IsArtifactMissing(err))

	je, ok := AsJobError(err)
	require.True(t, ok)
	assert.Equal(t, "deploy", je.Job)
}

func TestConfigError(t *testing.T) {
	err := &ConfigError{Path: "pipeline.yaml", Err: ErrConfig}
	assert.Equal(t, "config pipeline.yaml: invalid configuration", err.Error())
	assert.True(t, IsConfig(err))

	ce, ok := AsConfigError(err)
	require.True(t, ok)
	assert.Equal(t, "pipeline.yaml", ce.Path)
}

func TestCycleError(t *testing.T) {
	err := &CycleError{Path: []string{"a", "b", "a"}}
	assert.Equal(t, "dependency cycle: a -> b -> a", err.Error())
	assert.True(t, IsCycle(err))

	cy, ok := AsCycleError(fmt.Errorf("validate: %w", err))
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b", "a"}, cy.Path)
}

func TestCycleErrorEmptyPath(t *testing.T) {
	err := &CycleError{}
	assert.Equal(t, "dependency cycle", err.Error())
}
