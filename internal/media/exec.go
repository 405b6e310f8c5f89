// Package media shells out to ffmpeg, ffprobe and yt-dlp.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Runner abstracts process execution for testability.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (Result, error)
}

// Result captures the output of one command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// ExecRunner executes commands via os/exec.
type ExecRunner struct{}

// Run executes one command and captures stdout, stderr and the exit code.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) (Result, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		} else {
			res.ExitCode = -1
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("%w: %w", ctxErr, err)
		}
		return res, err
	}
	return res, nil
}

// CommandError reports a failed external tool invocation with its output.
type CommandError struct {
	Tool     string
	Args     []string
	ExitCode int
	Output   string
	Err      error
}

func (e *CommandError) Error() string {
	out := strings.TrimSpace(e.Output)
	if len(out) > 1200 {
		out = "..." + out[len(out)-1200:]
	}
	return fmt.Sprintf("%s failed (exit %d): %v\n%s", e.Tool, e.ExitCode, e.Err, out)
}

func (e *CommandError) Unwrap() error { return e.Err }
