package backend

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"
)

// Tectonic drives compiles through the tectonic toolchain. Tectonic embeds
// its own XeTeX engine, so the descriptor's Engine field is ignored.
type Tectonic struct {
	binary    string
	timeout   time.Duration
	grace     time.Duration
	extractor DiagnosticsExtractor
	logger    *slog.Logger
}

// NewTectonic creates a tectonic adapter.
func NewTectonic(cfg Config, extractor DiagnosticsExtractor, logger *slog.Logger) *Tectonic {
	if logger == nil {
		logger = slog.Default()
	}
	binary := cfg.TectonicPath
	if binary == "" {
		binary = DefaultConfig().TectonicPath
	}
	return &Tectonic{
		binary:    binary,
		timeout:   cfg.CompileTimeout,
		grace:     cfg.KillGrace,
		extractor: extractor,
		logger:    logger,
	}
}

func (t *Tectonic) Name() string { return "tectonic" }

func (t *Tectonic) IsAvailable(ctx context.Context) bool {
	_, err := exec.LookPath(t.binary)
	return err == nil
}

// Compile runs one tectonic build, resolving with a BuildResult on every
// path exactly like the latexmk adapter.
func (t *Tectonic) Compile(ctx context.Context, desc Descriptor, onOutput func(chunk string)) (*BuildResult, error) {
	if desc.Entrypoint == "" {
		return failureResult(0, Diagnostic{
			Severity: SeverityError,
			Message:  "descriptor has no entrypoint",
			Code:     "descriptor",
		}), nil
	}

	args := t.buildArgs(desc)
	t.logger.Info("starting compile",
		"backend", t.Name(),
		"target", desc.TargetKey,
		"entrypoint", desc.Entrypoint,
		"args", args,
	)

	timeout := desc.Timeout
	if timeout <= 0 {
		timeout = t.timeout
	}

	writer := newChunkWriter(onOutput)
	proc, err := runSupervised(ctx, procSpec{
		Command: t.binary,
		Args:    args,
		Dir:     desc.TargetKey,
		Timeout: timeout,
		Grace:   t.grace,
	}, writer, t.logger)
	if err != nil {
		return failureResult(0, Diagnostic{
			Severity: SeverityError,
			Message:  fmt.Sprintf("failed to start %s: %v", t.binary, err),
			Code:     "spawn",
		}), nil
	}

	switch proc.Outcome {
	case outcomeTimedOut:
		return failureResult(proc.Duration, Diagnostic{
			Severity: SeverityInfo,
			Message:  fmt.Sprintf("compilation timed out after %s and was terminated", timeout),
			Code:     "timeout",
		}), nil
	case outcomeCancelled:
		return failureResult(proc.Duration, Diagnostic{
			Severity: SeverityInfo,
			Message:  "compilation cancelled",
			Code:     "cancelled",
		}), nil
	}

	return t.inspect(desc, proc, writer.String()), nil
}

func (t *Tectonic) inspect(desc Descriptor, proc procResult, transcript string) *BuildResult {
	result := &BuildResult{Duration: proc.Duration}

	logText := transcript
	logPath := toolPath(desc, ".log")
	if data, err := os.ReadFile(logPath); err == nil {
		logText = string(data)
		result.LogPath = logPath
	}
	if t.extractor != nil {
		result.Diagnostics = t.extractor.Extract(logText, desc.TargetKey)
	}

	artifact := toolPath(desc, ".pdf")
	if _, err := os.Stat(artifact); err == nil && proc.ExitCode == 0 {
		result.Success = true
		result.ArtifactPath = artifact
		return result
	}

	if !hasSeverity(result.Diagnostics, SeverityError) {
		result.Diagnostics = append(result.Diagnostics, Diagnostic{
			Severity: SeverityError,
			Message:  fmt.Sprintf("%s exited with code %d and produced no artifact", t.binary, proc.ExitCode),
			Code:     "exit",
		})
	}
	return result
}

func (t *Tectonic) buildArgs(desc Descriptor) []string {
	args := []string{"-X", "compile", "--keep-logs", "--synctex"}
	if desc.ShellEscape {
		args = append(args, "-Z", "shell-escape")
	}
	if desc.OutputDir != "" {
		args = append(args, "--outdir", desc.OutputDir)
	}
	args = append(args, desc.ExtraArgs...)
	return append(args, desc.Entrypoint)
}

// Clean removes the files tectonic generates. Tectonic has no clean command,
// so the adapter deletes the known outputs directly.
func (t *Tectonic) Clean(ctx context.Context, desc Descriptor) CleanResult {
	if desc.Entrypoint == "" {
		return CleanResult{Message: "descriptor has no entrypoint"}
	}
	removed := 0
	for _, ext := range []string{".pdf", ".log", ".synctex.gz"} {
		path := toolPath(desc, ext)
		if err := os.Remove(path); err == nil {
			removed++
		} else if !os.IsNotExist(err) {
			return CleanResult{Message: fmt.Sprintf("removing %s: %v", path, err)}
		}
	}
	return CleanResult{Success: true, Message: fmt.Sprintf("removed %d files", removed)}
}
