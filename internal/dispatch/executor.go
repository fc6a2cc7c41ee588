package dispatch

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"time"
)

// DefaultShell runs rendered commands in shell mode.
const DefaultShell = "/bin/sh"

// Invocation is a prepared command ready to run.
type Invocation struct {
	// Command is the rendered command line, reported back to the caller.
	Command string
	// Args, when set, is executed directly without a shell.
	Args []string
	// Env holds extra KEY=VALUE assignments layered over the inherited
	// environment.
	Env []string
}

// Output is what a finished process produced.
type Output struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Executor runs an Invocation to completion.
type Executor interface {
	Execute(ctx context.Context, inv Invocation) (Output, error)
}

// ProcessExecutor runs invocations as child processes of the server.
type ProcessExecutor struct {
	// Shell is the interpreter used for shell-mode commands; empty means /bin/sh.
	Shell string
	// Timeout bounds each run. Zero waits for the child however long it takes.
	Timeout time.Duration
	// WaitDelay bounds how long output pipes are drained after the child is
	// killed on timeout.
	WaitDelay time.Duration
}

// Execute runs inv and waits for it. A non-zero exit status is reported in
// Output.ExitCode, not as an error. Cancellation of ctx by the caller does
// not stop the child; only the configured Timeout does.
func (e *ProcessExecutor) Execute(ctx context.Context, inv Invocation) (Output, error) {
	ctx = context.WithoutCancel(ctx)
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	var cmd *exec.Cmd
	if len(inv.Args) > 0 {
		cmd = exec.CommandContext(ctx, inv.Args[0], inv.Args[1:]...)
	} else {
		shell := e.Shell
		if shell == "" {
			shell = DefaultShell
		}
		cmd = exec.CommandContext(ctx, shell, "-c", inv.Command)
	}
	cmd.Env = append(os.Environ(), inv.Env...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if e.Timeout > 0 {
		setProcessGroup(cmd)
		cmd.WaitDelay = e.WaitDelay
		if cmd.WaitDelay <= 0 {
			cmd.WaitDelay = 2 * time.Second
		}
	}

	err := cmd.Run()
	out := Output{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: -1}
	if cmd.ProcessState != nil {
		out.ExitCode = cmd.ProcessState.ExitCode()
	}

	if e.Timeout > 0 && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return out, &TimeoutError{After: e.Timeout}
	}
	var exitErr *exec.ExitError
	if err == nil || errors.As(err, &exitErr) || errors.Is(err, exec.ErrWaitDelay) {
		return out, nil
	}
	return out, err
}
