package runtime

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

// LocalRuntime executes commands in a local shell.
type LocalRuntime struct{}

// NewLocal creates a runtime that runs commands on the host.
func NewLocal() *LocalRuntime {
	return &LocalRuntime{}
}

// Run executes the spec's command in a shell.
func (r *LocalRuntime) Run(ctx context.Context, spec Spec, sink LineSink) Result {
	shell := spec.Shell
	if shell == "" {
		shell = "bash"
	}
	cmd := exec.CommandContext(ctx, shell, "-c", spec.Command)
	if spec.CWD != "" {
		cmd.Dir = spec.CWD
	}
	if len(spec.Env) > 0 {
		cmd.Env = append([]string{}, os.Environ()...)
		for k, v := range spec.Env {
			cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
		}
	}
	return runCmd(ctx, cmd, spec.Command, sink)
}

// runCmd starts cmd, streams combined output to sink, and collects the
// result. Shared by the local and docker runtimes.
func runCmd(ctx context.Context, cmd *exec.Cmd, command string, sink LineSink) Result {
	startTime := time.Now()
	result := Result{Command: command}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		result.Error = fmt.Errorf("failed to create stdout pipe: %w", err)
		result.Duration = time.Since(startTime)
		return result
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		result.Error = fmt.Errorf("failed to create stderr pipe: %w", err)
		result.Duration = time.Since(startTime)
		return result
	}

	if err := cmd.Start(); err != nil {
		result.Error = fmt.Errorf("failed to start command: %w", err)
		result.ExitCode = 127
		result.Duration = time.Since(startTime)
		return result
	}

	var output strings.Builder
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(2)

	consume := func(r io.Reader) {
		defer wg.Done()
		scanner := newLineScanner(r)
		for scanner.Scan() {
			line := scanner.Text()
			mu.Lock()
			output.WriteString(line + "\n")
			mu.Unlock()
			if sink != nil {
				_ = sink.Write(line)
			}
		}
	}
	go consume(stdout)
	go consume(stderr)

	err = cmd.Wait()
	wg.Wait()

	result.Output = output.String()
	result.Duration = time.Since(startTime)

	if err != nil {
		result.Error = err
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = getExitCode(exitErr)
		} else {
			result.ExitCode = 1
		}
		// Surface the deadline so callers can tell a timeout from a
		// plain nonzero exit.
		if ctx.Err() != nil {
			result.Error = ctx.Err()
		}
		return result
	}

	result.Success = true
	result.ExitCode = 0
	return result
}

// getExitCode extracts the exit code from an exec.ExitError.
func getExitCode(err *exec.ExitError) int {
	if status, ok := err.Sys().(syscall.WaitStatus); ok {
		return status.ExitStatus()
	}
	return 1
}

// lineScanner provides line-by-line scanning with a trailing partial
// line returned as a final line.
type lineScanner struct {
	reader *bufio.Reader
	line   string
	err    error
}

func newLineScanner(r io.Reader) *lineScanner {
	return &lineScanner{reader: bufio.NewReader(r)}
}

func (s *lineScanner) Scan() bool {
	s.line, s.err = s.reader.ReadString('\n')
	if s.err != nil {
		if s.err == io.EOF {
			return s.line != ""
		}
		return false
	}
	return true
}

func (s *lineScanner) Text() string {
	return strings.TrimSuffix(s.line, "\n")
}
