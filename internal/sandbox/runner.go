package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/google/uuid"

	"ontogen/internal/logging"
)

// DefaultMaxOutputBytes caps captured stdout and stderr per stream.
const DefaultMaxOutputBytes = 1 << 20

// Output is what a script run produced.
type Output struct {
	Stdout    string
	Stderr    string
	ExitCode  int
	Truncated bool
	Duration  time.Duration
}

// Combined joins stdout and stderr.
func (o Output) Combined() string {
	switch {
	case o.Stdout == "":
		return o.Stderr
	case o.Stderr == "":
		return o.Stdout
	}
	return o.Stdout + "\n" + o.Stderr
}

// Runner executes a Python script that lives in dir. A non-zero exit is
// reported through Output.ExitCode; the error is reserved for runs that
// could not start or were killed.
type Runner interface {
	Run(ctx context.Context, dir, script string) (Output, error)
}

// ProcessRunner runs scripts with a host interpreter.
type ProcessRunner struct {
	Python         string
	MaxOutputBytes int64
	// Env replaces the default minimal environment when non-nil.
	Env []string
}

// NewProcessRunner returns a runner for the given interpreter (python3 when empty).
func NewProcessRunner(python string) *ProcessRunner {
	if python == "" {
		python = "python3"
	}
	return &ProcessRunner{Python: python, MaxOutputBytes: DefaultMaxOutputBytes}
}

func (r *ProcessRunner) Run(ctx context.Context, dir, script string) (Output, error) {
	cmd := exec.CommandContext(ctx, r.Python, script)
	cmd.Dir = dir
	cmd.Env = r.Env
	if cmd.Env == nil {
		cmd.Env = []string{
			"PATH=" + os.Getenv("PATH"),
			"HOME=" + dir,
			"PYTHONDONTWRITEBYTECODE=1",
			"PYTHONIOENCODING=utf-8",
		}
	}
	logging.SandboxDebug("Starting process: %s %s in %s", r.Python, script, dir)
	return runCommand(ctx, cmd, r.MaxOutputBytes)
}

// DockerRunner runs scripts inside a throwaway container with networking
// disabled and a read-only root filesystem. The image must already contain
// whatever libraries payloads import.
type DockerRunner struct {
	Docker         string
	Image          string
	Python         string
	Memory         string
	PidsLimit      int
	MaxOutputBytes int64
}

// NewDockerRunner returns a runner using image.
func NewDockerRunner(image string) *DockerRunner {
	if image == "" {
		image = "python:3.12-slim"
	}
	return &DockerRunner{
		Docker:         "docker",
		Image:          image,
		Python:         "python",
		Memory:         "256m",
		PidsLimit:      64,
		MaxOutputBytes: DefaultMaxOutputBytes,
	}
}

func (r *DockerRunner) Run(ctx context.Context, dir, script string) (Output, error) {
	name := "ontogen-" + uuid.NewString()
	args := r.buildArgs(name, dir, script)

	// The container must go away even when ctx is cancelled mid-run.
	defer func() {
		rmCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = exec.CommandContext(rmCtx, r.Docker, "rm", "-f", name).Run()
	}()

	logging.SandboxDebug("Starting container %s from %s", name, r.Image)
	cmd := exec.CommandContext(ctx, r.Docker, args...)
	return runCommand(ctx, cmd, r.MaxOutputBytes)
}

func (r *DockerRunner) buildArgs(name, dir, script string) []string {
	args := []string{
		"run", "--rm",
		"--name", name,
		"--network", "none",
		"--read-only",
		"--tmpfs", "/tmp:size=64m",
		"--security-opt", "no-new-privileges",
	}
	if r.Memory != "" {
		args = append(args, "--memory", r.Memory)
	}
	if r.PidsLimit > 0 {
		args = append(args, "--pids-limit", strconv.Itoa(r.PidsLimit))
	}
	args = append(args,
		"-v", dir+":/work",
		"-w", "/work",
		"-e", "PYTHONDONTWRITEBYTECODE=1",
		r.Image,
		r.Python, script,
	)
	return args
}

func runCommand(ctx context.Context, cmd *exec.Cmd, maxOutput int64) (Output, error) {
	if maxOutput <= 0 {
		maxOutput = DefaultMaxOutputBytes
	}
	stdout := &cappedBuffer{limit: maxOutput}
	stderr := &cappedBuffer{limit: maxOutput}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	err := cmd.Run()
	out := Output{
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		Duration:  time.Since(start),
		Truncated: stdout.truncated() || stderr.truncated(),
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		out.ExitCode = -1
		return out, fmt.Errorf("run killed after %s: %w", out.Duration.Round(time.Millisecond), ctxErr)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		out.ExitCode = exitErr.ExitCode()
		return out, nil
	}
	if err != nil {
		out.ExitCode = -1
		return out, fmt.Errorf("failed to start %s: %w", cmd.Path, err)
	}
	return out, nil
}

// cappedBuffer keeps the first limit bytes of a stream and counts the rest.
// Writes always report full length so the child never sees a short write.
type cappedBuffer struct {
	buf     bytes.Buffer
	limit   int64
	dropped int64
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	room := c.limit - int64(c.buf.Len())
	switch {
	case room <= 0:
		c.dropped += int64(len(p))
	case int64(len(p)) > room:
		c.buf.Write(p[:room])
		c.dropped += int64(len(p)) - room
	default:
		c.buf.Write(p)
	}
	return len(p), nil
}

func (c *cappedBuffer) String() string { return c.buf.String() }

func (c *cappedBuffer) truncated() bool { return c.dropped > 0 }
