package tools

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"
	"time"
)

func requireBinary(t *testing.T, name string) {
	t.Helper()
	if _, err := exec.LookPath(name); err != nil {
		t.Skipf("%s not available: %v", name, err)
	}
}

func TestExecRunnerSuccess(t *testing.T) {
	requireBinary(t, "sh")
	stdout, _, code, err := ExecRunner{}.Run(context.Background(), "sh", "-c", "printf hello")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if code != 0 || string(stdout) != "hello" {
		t.Fatalf("unexpected result code=%d stdout=%q", code, stdout)
	}
}

func TestExecRunnerExitCode(t *testing.T) {
	requireBinary(t, "sh")
	_, stderr, code, err := ExecRunner{}.Run(context.Background(), "sh", "-c", "echo boom >&2; exit 3")
	if err == nil {
		t.Fatalf("expected error")
	}
	if code != 3 {
		t.Fatalf("unexpected exit code: %d", code)
	}
	if strings.TrimSpace(string(stderr)) != "boom" {
		t.Fatalf("unexpected stderr: %q", stderr)
	}
}

func TestExecRunnerMissingBinary(t *testing.T) {
	_, _, code, err := ExecRunner{}.Run(context.Background(), "botctl-definitely-missing-binary")
	if err == nil {
		t.Fatalf("expected error")
	}
	if code != 127 {
		t.Fatalf("expected exit 127, got %d", code)
	}
}

func TestExecRunnerContextDeadline(t *testing.T) {
	requireBinary(t, "sleep")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, _, _, err := ExecRunner{}.Run(ctx, "sleep", "5")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

type stubRunner struct {
	stdout, stderr []byte
	code           int32
	err            error
}

func (s stubRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, int32, error) {
	return s.stdout, s.stderr, s.code, s.err
}

func TestRunCheckedWrapsFailure(t *testing.T) {
	base := errors.New("exit status 128")
	err := RunChecked(context.Background(), stubRunner{stderr: []byte(" fatal: repo not found \n"), code: 128, err: base}, "git", "clone", "x")
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("expected *CommandError, got %T", err)
	}
	if cmdErr.ExitCode != 128 || cmdErr.Stderr != "fatal: repo not found" {
		t.Fatalf("unexpected command error: %+v", cmdErr)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped base error")
	}
	if !strings.Contains(err.Error(), `args="clone x"`) {
		t.Fatalf("unexpected message: %s", err)
	}
}

func TestRunCheckedSuccess(t *testing.T) {
	if err := RunChecked(context.Background(), stubRunner{}, "git", "--version"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
