// Package runtime abstracts where a job's commands execute: directly in
// a local shell, or inside a container. The engine treats both as an
// opaque capability that runs a command and returns exit code and logs.
package runtime

import (
	"context"
	"time"
)

// Spec describes one command execution.
type Spec struct {
	Command string            // Command to execute
	Shell   string            // Shell to use (bash, zsh, sh)
	Image   string            // Container image; consumed by container runtimes
	CWD     string            // Working directory (host path)
	Env     map[string]string // Environment variables
}

// Result contains the outcome of one command execution.
type Result struct {
	Command  string
	ExitCode int
	Success  bool
	Output   string
	Duration time.Duration
	Error    error
}

// Runtime runs a single command to completion.
type Runtime interface {
	Run(ctx context.Context, spec Spec, sink LineSink) Result
}

// LineSink receives command output line by line. May be nil.
type LineSink interface {
	Write(line string) error
}

// Select picks a runtime for a job: container image set means docker,
// otherwise the local shell.
func Select(image, dockerBinary string) Runtime {
	if image != "" {
		return NewDocker(dockerBinary)
	}
	return NewLocal()
}
