// Package errors provides a structured error type hierarchy for the nwf CLI.
//
// This package defines base error types for common error conditions, wrapped
// error types that add contextual information, and helper functions for error
// wrapping and type checking.
//
// # Error Types
//
// Base errors (sentinel errors):
//   - ErrConfig - pipeline document is malformed
//   - ErrCycle - dependency graph contains a cycle
//   - ErrArtifactMissing - dependent job needed an unpersisted workspace path
//   - ErrDuplicateKey - cache save refused because the key already exists
//   - ErrCacheMiss - no cache entry matched any candidate key
//   - ErrTimeout - job or step exceeded its wall-clock budget
//   - ErrCanceled - run aborted by the user
//
// Wrapped error types (add context):
//   - StepError{Job, Step, ExitCode, Err} - step execution errors
//   - JobError{Job, Err} - job-level errors
//   - ConfigError{Path, Err} - pipeline/config file errors
//   - CycleError{Path} - dependency cycle with the witness path
//
// # Usage
//
//	// Use sentinel errors directly
//	return errors.ErrArtifactMissing
//
//	// Wrap with context using Wrap
//	return errors.Wrap(err, "restoreCache")
//
//	// Use structured error types
//	return &errors.StepError{Job: "build", Step: "compile", ExitCode: 2, Err: err}
//
//	// Check error types
//	if errors.IsTimeout(err) {
//	    // handle timeout
//	}
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Base error types (sentinel errors).
var (
	// ErrConfig indicates a malformed pipeline document or job graph.
	ErrConfig = baseError("invalid configuration")

	// ErrCycle indicates the dependency graph contains a cycle.
	ErrCycle = baseError("dependency cycle")

	// ErrArtifactMissing indicates a workspace snapshot was required but
	// the producing job never persisted it.
	ErrArtifactMissing = baseError("workspace artifact missing")

	// ErrDuplicateKey indicates a cache save was refused because an entry
	// with the same key already exists.
	ErrDuplicateKey = baseError("cache key already exists")

	// ErrCacheMiss indicates no cache entry matched any candidate key.
	ErrCacheMiss = baseError("cache miss")

	// ErrTimeout indicates a job or step exceeded its wall-clock budget.
	ErrTimeout = baseError("timeout exceeded")

	// ErrCanceled indicates the user canceled the run.
	ErrCanceled = baseError("canceled")
)

// baseError is a string that implements error.
type baseError string

func (e baseError) Error() string { return string(e) }

// StepError represents a failed step inside a job.
type StepError struct {
	// Job is the name of the owning job.
	Job string
	// Step is the step name, or its command when unnamed.
	Step string
	// ExitCode is the process exit code, if the step ran at all.
	ExitCode int
	// Err is the underlying error.
	Err error
}

func (e *StepError) Error() string {
	if e.Step != "" {
		return fmt.Sprintf("job %q step %q: exit %d: %s", e.Job, e.Step, e.ExitCode, e.Err)
	}
	return fmt.Sprintf("job %q: exit %d: %s", e.Job, e.ExitCode, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// JobError represents an error that terminated a job before or outside of
// step execution (attach failure, timeout, runtime setup).
type JobError struct {
	// Job is the job name.
	Job string
	// Err is the underlying error.
	Err error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("job %q: %s", e.Job, e.Err)
}

func (e *JobError) Unwrap() error { return e.Err }

// ConfigError represents an error in the pipeline document or tool config.
type ConfigError struct {
	// Path is the file path (optional).
	Path string
	// Err is the underlying error.
	Err error
}

func (e *ConfigError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("config %s: %s", e.Path, e.Err)
	}
	return fmt.Sprintf("config: %s", e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// CycleError reports a dependency cycle with one witness path.
type CycleError struct {
	// Path is the cycle in order, first node repeated at the end.
	Path []string
}

func (e *CycleError) Error() string {
	if len(e.Path) == 0 {
		return ErrCycle.Error()
	}
	return fmt.Sprintf("%s: %s", ErrCycle, strings.Join(e.Path, " -> "))
}

func (e *CycleError) Unwrap() error { return ErrCycle }

// Wrap adds context to an error by wrapping it with an operation name.
// The returned error implements Unwrap() allowing errors.Is and errors.As
// to work with the wrapped error.
func Wrap(err error, op string) error {
	return &wrappedError{op: op, err: err}
}

// wrappedError is an error with an operation context.
type wrappedError struct {
	op  string
	err error
}

func (e *wrappedError) Error() string { return fmt.Sprintf("%s: %s", e.op, e.err) }
func (e *wrappedError) Unwrap() error { return e.err }

// IsConfig reports whether err is or wraps ErrConfig.
func IsConfig(err error) bool {
	return errors.Is(err, ErrConfig)
}

// IsCycle reports whether err is or wraps ErrCycle.
func IsCycle(err error) bool {
	return errors.Is(err, ErrCycle)
}

// IsArtifactMissing reports whether err is or wraps ErrArtifactMissing.
func IsArtifactMissing(err error) bool {
	return errors.Is(err, ErrArtifactMissing)
}

// IsDuplicateKey reports whether err is or wraps ErrDuplicateKey.
func IsDuplicateKey(err error) bool {
	return errors.Is(err, ErrDuplicateKey)
}

// IsCacheMiss reports whether err is or wraps ErrCacheMiss.
func IsCacheMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss)
}

// IsTimeout reports whether err is or wraps ErrTimeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsCanceled reports whether err is or wraps ErrCanceled.
func IsCanceled(err error) bool {
	return errors.Is(err, ErrCanceled)
}

// AsStepError reports whether err can be typed as a *StepError.
func AsStepError(err error) (*StepError, bool) {
	var se *StepError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// AsJobError reports whether err can be typed as a *JobError.
func AsJobError(err error) (*JobError, bool) {
	var je *JobError
	if errors.As(err, &je) {
		return je, true
	}
	return nil, false
}

// AsConfigError reports whether err can be typed as a *ConfigError.
func AsConfigError(err error) (*ConfigError, bool) {
	var ce *ConfigError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// AsCycleError reports whether err can be typed as a *CycleError.
func AsCycleError(err error) (*CycleError, bool) {
	var cy *CycleError
	if errors.As(err, &cy) {
		return cy, true
	}
	return nil, false
}
