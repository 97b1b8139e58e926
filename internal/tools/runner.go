package tools

import (
	"context"
	"errors"
	"io"
	"os/exec"
	"time"
)

// ExitNotFound is reported when the command could not be started at all.
const ExitNotFound = 127

// waitDelay bounds how long a killed command's leftover children may hold
// its output pipes open.
const waitDelay = time.Second

// CommandRunner abstracts command execution so evaluators can be tested
// without a host shell.
type CommandRunner interface {
	// Run streams the command's output to stdout and stderr and returns its
	// exit code. Cancelling ctx kills the command.
	Run(ctx context.Context, stdout, stderr io.Writer, name string, args ...string) (int, error)
}

// ExecRunner executes commands on the local host.
type ExecRunner struct {
	Dir string
	Env []string
}

func (r ExecRunner) Run(ctx context.Context, stdout, stderr io.Writer, name string, args ...string) (int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = r.Dir
	if len(r.Env) > 0 {
		cmd.Env = r.Env
	}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = waitDelay

	err := cmd.Run()
	if err == nil {
		return 0, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return -1, ctxErr
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), err
	}
	exitCode := 1
	var execErr *exec.Error
	if errors.As(err, &execErr) {
		exitCode = ExitNotFound
	}
	return exitCode, err
}
