package runtime

import (
	"context"
	"fmt"
	"os/exec"
	"sort"
)

// containerWorkdir is where the job's working directory is mounted
// inside the container.
const containerWorkdir = "/workspace"

// DockerRuntime executes commands inside a container via the docker CLI.
// The docker binary is consumed as an opaque capability; image building
// and registry interaction stay outside this tool.
type DockerRuntime struct {
	binary string
}

// NewDocker creates a container runtime using the given docker binary
// ("docker" when empty).
func NewDocker(binary string) *DockerRuntime {
	if binary == "" {
		binary = "docker"
	}
	return &DockerRuntime{binary: binary}
}

// Run executes the spec's command inside spec.Image, with the working
// directory bind-mounted at /workspace.
func (r *DockerRuntime) Run(ctx context.Context, spec Spec, sink LineSink) Result {
	shell := spec.Shell
	if shell == "" {
		shell = "sh"
	}

	args := []string{"run", "--rm", "-w", containerWorkdir}
	if spec.CWD != "" {
		args = append(args, "-v", fmt.Sprintf("%s:%s", spec.CWD, containerWorkdir))
	}
	for _, k := range sortedKeys(spec.Env) {
		args = append(args, "-e", fmt.Sprintf("%s=%s", k, spec.Env[k]))
	}
	args = append(args, spec.Image, shell, "-c", spec.Command)

	cmd := exec.CommandContext(ctx, r.binary, args...)
	return runCmd(ctx, cmd, spec.Command, sink)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
