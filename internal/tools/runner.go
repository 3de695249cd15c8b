package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// CommandRunner abstracts short-lived command execution (git clone and friends).
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, []byte, int32, error)
}

// ExecRunner executes commands on the local host.
type ExecRunner struct {
	// Dir is the working directory; empty means the current process dir.
	Dir string
	// Env replaces the inherited environment when non-nil.
	Env []string
}

// tools command-runner implementation backed by os/exec.
func (r ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, int32, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = r.Dir
	if r.Env != nil {
		cmd.Env = r.Env
	}
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return stdout.Bytes(), stderr.Bytes(), 0, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return stdout.Bytes(), stderr.Bytes(), -1, fmt.Errorf("%w: %v", ctxErr, err)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return stdout.Bytes(), stderr.Bytes(), int32(exitErr.ExitCode()), err
	}

	exitCode := int32(1)
	var execErr *exec.Error
	if errors.As(err, &execErr) {
		exitCode = 127
	}
	return stdout.Bytes(), stderr.Bytes(), exitCode, err
}

// CommandError carries the full outcome of a failed command.
type CommandError struct {
	Name     string
	Args     []string
	ExitCode int32
	Stdout   string
	Stderr   string
	Err      error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf(
		"command failed cmd=%s args=%q exit=%d stdout=%q stderr=%q: %v",
		e.Name,
		strings.Join(e.Args, " "),
		e.ExitCode,
		e.Stdout,
		e.Stderr,
		e.Err,
	)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// RunChecked runs a command and folds a failure into a *CommandError.
func RunChecked(ctx context.Context, runner CommandRunner, name string, args ...string) error {
	stdout, stderr, exitCode, err := runner.Run(ctx, name, args...)
	if err == nil {
		return nil
	}
	return &CommandError{
		Name:     name,
		Args:     append([]string(nil), args...),
		ExitCode: exitCode,
		Stdout:   strings.TrimSpace(string(stdout)),
		Stderr:   strings.TrimSpace(string(stderr)),
		Err:      err,
	}
}
