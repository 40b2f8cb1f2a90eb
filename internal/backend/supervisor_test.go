package backend

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"runtime"
	"strings"
	"testing"
	"time"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("test drives sh and POSIX signals")
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunSupervisedGracefulExit(t *testing.T) {
	requireUnix(t)
	var out bytes.Buffer
	res, err := runSupervised(context.Background(), procSpec{
		Command: "sh",
		Args:    []string{"-c", "echo hello"},
		Timeout: 5 * time.Second,
		Grace:   time.Second,
	}, &out, discardLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != outcomeExited || res.ExitCode != 0 {
		t.Fatalf("outcome=%v exit=%d, want exited/0", res.Outcome, res.ExitCode)
	}
	if !strings.Contains(out.String(), "hello") {
		t.Fatalf("output not captured: %q", out.String())
	}
}

func TestRunSupervisedNonZeroExit(t *testing.T) {
	requireUnix(t)
	res, err := runSupervised(context.Background(), procSpec{
		Command: "sh",
		Args:    []string{"-c", "exit 3"},
		Timeout: 5 * time.Second,
		Grace:   time.Second,
	}, io.Discard, discardLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != outcomeExited || res.ExitCode != 3 {
		t.Fatalf("outcome=%v exit=%d, want exited/3", res.Outcome, res.ExitCode)
	}
}

func TestRunSupervisedTimeout(t *testing.T) {
	requireUnix(t)
	start := time.Now()
	res, err := runSupervised(context.Background(), procSpec{
		Command: "sh",
		Args:    []string{"-c", "sleep 10"},
		Timeout: 100 * time.Millisecond,
		Grace:   time.Second,
	}, io.Discard, discardLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != outcomeTimedOut {
		t.Fatalf("outcome=%v, want timed_out", res.Outcome)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("termination took too long: %s", elapsed)
	}
}

func TestRunSupervisedForcedKill(t *testing.T) {
	requireUnix(t)
	// The shell ignores SIGTERM and busy-loops, so only the forced kill
	// after the grace window can end it.
	start := time.Now()
	res, err := runSupervised(context.Background(), procSpec{
		Command: "sh",
		Args:    []string{"-c", `trap "" TERM; while true; do :; done`},
		Timeout: 100 * time.Millisecond,
		Grace:   200 * time.Millisecond,
	}, io.Discard, discardLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != outcomeTimedOut {
		t.Fatalf("outcome=%v, want timed_out", res.Outcome)
	}
	// Budget + grace window + small overhead.
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("forced kill took too long: %s", elapsed)
	}
}

func TestRunSupervisedCancel(t *testing.T) {
	requireUnix(t)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	res, err := runSupervised(ctx, procSpec{
		Command: "sh",
		Args:    []string{"-c", "sleep 10"},
		Timeout: 30 * time.Second,
		Grace:   time.Second,
	}, io.Discard, discardLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != outcomeCancelled {
		t.Fatalf("outcome=%v, want cancelled", res.Outcome)
	}
}

func TestRunSupervisedCancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := runSupervised(ctx, procSpec{
		Command: "sh",
		Args:    []string{"-c", "echo never"},
	}, io.Discard, discardLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != outcomeCancelled {
		t.Fatalf("outcome=%v, want cancelled", res.Outcome)
	}
}

func TestRunSupervisedSpawnFailure(t *testing.T) {
	_, err := runSupervised(context.Background(), procSpec{
		Command: "definitely-not-a-real-binary-xyz",
	}, io.Discard, discardLogger())
	if err == nil {
		t.Fatal("expected a spawn error")
	}
}
