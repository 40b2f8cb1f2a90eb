package backend

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"time"
)

// outcome describes how a supervised process ended.
type outcome int

const (
	outcomeExited outcome = iota
	outcomeTimedOut
	outcomeCancelled
)

func (o outcome) String() string {
	switch o {
	case outcomeTimedOut:
		return "timed_out"
	case outcomeCancelled:
		return "cancelled"
	default:
		return "exited"
	}
}

// procSpec describes one external toolchain invocation. Args are passed to
// the OS directly, never through a shell, so untrusted descriptor fields
// cannot inject commands.
type procSpec struct {
	Command string
	Args    []string
	Dir     string
	Timeout time.Duration
	Grace   time.Duration
}

type procResult struct {
	Outcome  outcome
	ExitCode int
	Duration time.Duration
}

// runSupervised spawns the process in its own process group, streams combined
// output to w, and enforces the time budget. On timeout or ctx cancellation
// it terminates the whole process tree: graceful signal first, forced kill
// after the grace window. It returns an error only when the process could not
// be started.
func runSupervised(ctx context.Context, spec procSpec, w io.Writer, logger *slog.Logger) (procResult, error) {
	if ctx.Err() != nil {
		return procResult{Outcome: outcomeCancelled}, nil
	}

	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Stdout = w
	cmd.Stderr = w
	setProcessGroup(cmd)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return procResult{}, fmt.Errorf("starting %s: %w", spec.Command, err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = DefaultConfig().CompileTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	res := procResult{Outcome: outcomeExited}
	var waitErr error

	select {
	case waitErr = <-done:
	case <-timer.C:
		res.Outcome = outcomeTimedOut
		waitErr = terminate(cmd, done, spec.Grace, logger)
	case <-ctx.Done():
		res.Outcome = outcomeCancelled
		waitErr = terminate(cmd, done, spec.Grace, logger)
	}

	res.Duration = time.Since(start)
	res.ExitCode = exitCode(waitErr)

	logger.Debug("process finished",
		"command", spec.Command,
		"outcome", res.Outcome.String(),
		"exit_code", res.ExitCode,
		"duration", res.Duration.String(),
	)
	return res, nil
}

// terminate escalates: signal the process group to exit, then force-kill the
// tree if it is still alive after the grace window. The toolchain commonly
// spawns children that must die with it.
func terminate(cmd *exec.Cmd, done chan error, grace time.Duration, logger *slog.Logger) error {
	if err := terminateTree(cmd, false); err != nil {
		logger.Warn("graceful termination failed", "pid", cmd.Process.Pid, "error", err)
	}
	if grace <= 0 {
		grace = DefaultConfig().KillGrace
	}
	select {
	case err := <-done:
		return err
	case <-time.After(grace):
	}
	if err := terminateTree(cmd, true); err != nil {
		logger.Warn("forced kill failed", "pid", cmd.Process.Pid, "error", err)
	}
	return <-done
}

func exitCode(waitErr error) int {
	if waitErr == nil {
		return 0
	}
	if exitErr, ok := waitErr.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	return -1
}
