package backend

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Latexmk drives compiles through the latexmk wrapper, which handles the
// rerun-until-stable dance for cross references and bibliographies.
type Latexmk struct {
	binary    string
	timeout   time.Duration
	grace     time.Duration
	extractor DiagnosticsExtractor
	logger    *slog.Logger
}

// NewLatexmk creates a latexmk adapter.
func NewLatexmk(cfg Config, extractor DiagnosticsExtractor, logger *slog.Logger) *Latexmk {
	if logger == nil {
		logger = slog.Default()
	}
	binary := cfg.LatexmkPath
	if binary == "" {
		binary = DefaultConfig().LatexmkPath
	}
	return &Latexmk{
		binary:    binary,
		timeout:   cfg.CompileTimeout,
		grace:     cfg.KillGrace,
		extractor: extractor,
		logger:    logger,
	}
}

func (l *Latexmk) Name() string { return "latexmk" }

// IsAvailable reports whether the latexmk binary can be found.
func (l *Latexmk) IsAvailable(ctx context.Context) bool {
	_, err := exec.LookPath(l.binary)
	return err == nil
}

// Compile runs one latexmk build. It always resolves with a BuildResult:
// spawn failures, non-zero exits, timeouts and cancellations all become
// failure results carrying a diagnostic instead of an error.
func (l *Latexmk) Compile(ctx context.Context, desc Descriptor, onOutput func(chunk string)) (*BuildResult, error) {
	if desc.Entrypoint == "" {
		return failureResult(0, Diagnostic{
			Severity: SeverityError,
			Message:  "descriptor has no entrypoint",
			Code:     "descriptor",
		}), nil
	}

	args := l.buildArgs(desc)
	l.logger.Info("starting compile",
		"backend", l.Name(),
		"target", desc.TargetKey,
		"entrypoint", desc.Entrypoint,
		"args", args,
	)

	timeout := desc.Timeout
	if timeout <= 0 {
		timeout = l.timeout
	}

	writer := newChunkWriter(onOutput)
	proc, err := runSupervised(ctx, procSpec{
		Command: l.binary,
		Args:    args,
		Dir:     desc.TargetKey,
		Timeout: timeout,
		Grace:   l.grace,
	}, writer, l.logger)
	if err != nil {
		return failureResult(0, Diagnostic{
			Severity: SeverityError,
			Message:  fmt.Sprintf("failed to start %s: %v", l.binary, err),
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

	return l.inspect(desc, proc, writer.String()), nil
}

// inspect decides success from the expected artifact and gathers diagnostics
// from the toolchain log after a graceful exit.
func (l *Latexmk) inspect(desc Descriptor, proc procResult, transcript string) *BuildResult {
	result := &BuildResult{Duration: proc.Duration}

	logText := transcript
	logPath := toolPath(desc, ".log")
	if data, err := os.ReadFile(logPath); err == nil {
		logText = string(data)
		result.LogPath = logPath
	}
	if l.extractor != nil {
		result.Diagnostics = l.extractor.Extract(logText, desc.TargetKey)
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
			Message:  fmt.Sprintf("%s exited with code %d and produced no artifact", l.binary, proc.ExitCode),
			Code:     "exit",
		})
	}
	return result
}

// buildArgs assembles the latexmk argument list from the descriptor.
// Arguments go straight to exec, so descriptor fields cannot smuggle in
// shell syntax.
func (l *Latexmk) buildArgs(desc Descriptor) []string {
	args := []string{"-interaction=nonstopmode", "-file-line-error", "-synctex=1"}
	switch desc.Engine {
	case EngineXeLaTeX:
		args = append(args, "-pdfxe")
	case EngineLuaLaTeX:
		args = append(args, "-pdflua")
	default:
		args = append(args, "-pdf")
	}
	if desc.ShellEscape {
		args = append(args, "-shell-escape")
	}
	if desc.OutputDir != "" {
		args = append(args, "-outdir="+desc.OutputDir)
	}
	args = append(args, desc.ExtraArgs...)
	return append(args, desc.Entrypoint)
}

// Clean removes generated files for a target via latexmk -C.
func (l *Latexmk) Clean(ctx context.Context, desc Descriptor) CleanResult {
	args := []string{"-C"}
	if desc.OutputDir != "" {
		args = append(args, "-outdir="+desc.OutputDir)
	}
	if desc.Entrypoint != "" {
		args = append(args, desc.Entrypoint)
	}
	cmd := exec.CommandContext(ctx, l.binary, args...)
	cmd.Dir = desc.TargetKey
	if out, err := cmd.CombinedOutput(); err != nil {
		return CleanResult{Message: fmt.Sprintf("latexmk -C failed: %v: %s", err, strings.TrimSpace(string(out)))}
	}
	return CleanResult{Success: true, Message: "artifacts removed"}
}

// toolPath resolves the path of a toolchain output file (artifact, log) for
// the descriptor's entrypoint, honoring the output directory.
func toolPath(desc Descriptor, ext string) string {
	base := filepath.Base(desc.Entrypoint)
	job := strings.TrimSuffix(base, filepath.Ext(base))
	dir := desc.TargetKey
	if desc.OutputDir != "" {
		dir = filepath.Join(dir, desc.OutputDir)
	}
	return filepath.Join(dir, job+ext)
}

func failureResult(d time.Duration, diags ...Diagnostic) *BuildResult {
	return &BuildResult{Duration: d, Diagnostics: diags}
}

func hasSeverity(diags []Diagnostic, sev Severity) bool {
	for _, d := range diags {
		if d.Severity == sev {
			return true
		}
	}
	return false
}
