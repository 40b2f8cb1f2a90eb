// Package backend defines the contract between the build scheduler and the
// toolchain adapters that actually run a compile, plus the adapters
// themselves (latexmk and tectonic).
package backend

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Engine selects the TeX engine a compile should use.
type Engine string

const (
	EnginePDFLaTeX Engine = "pdflatex"
	EngineXeLaTeX  Engine = "xelatex"
	EngineLuaLaTeX Engine = "lualatex"
)

// Descriptor is the per-compile configuration. The scheduler treats it as
// opaque and only reads TargetKey; everything else is interpreted by the
// adapter building the toolchain argument list.
type Descriptor struct {
	TargetKey   string   `json:"target_key"`  // project root directory, serializes compiles
	Entrypoint  string   `json:"entrypoint"`  // main source file, relative to the root
	Engine      Engine   `json:"engine,omitempty"`
	OutputDir   string   `json:"output_dir,omitempty"` // relative to the root, defaults to "."
	ShellEscape bool     `json:"shell_escape,omitempty"`
	ExtraArgs   []string `json:"extra_args,omitempty"`

	// Timeout bounds one compile attempt; zero means the adapter default.
	Timeout time.Duration `json:"-"`
}

// Severity classifies a diagnostic record.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Diagnostic is one structured record extracted from build output.
type Diagnostic struct {
	Severity Severity `json:"severity"`
	File     string   `json:"file,omitempty"`
	Line     int      `json:"line,omitempty"`
	Message  string   `json:"message"`
	Raw      string   `json:"raw,omitempty"`
	Code     string   `json:"code,omitempty"`
}

// BuildResult is the uniform outcome of one compile attempt. Every path
// through an adapter produces one: success, toolchain failure, spawn failure,
// timeout and cancellation all end here.
type BuildResult struct {
	Success      bool          `json:"success"`
	ArtifactPath string        `json:"artifact_path,omitempty"`
	Diagnostics  []Diagnostic  `json:"diagnostics,omitempty"`
	LogPath      string        `json:"log_path,omitempty"`
	Duration     time.Duration `json:"duration"`
}

// CleanResult reports the outcome of removing build artifacts for a target.
type CleanResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// DiagnosticsExtractor turns raw toolchain log text into structured records.
// Adapters invoke it after process exit, before assembling the BuildResult.
type DiagnosticsExtractor interface {
	Extract(logText string, rootDir string) []Diagnostic
}

// Backend is the capability contract the scheduler depends on. Compile runs
// one build to completion or failure and resolves exactly once per call;
// cancellation is requested by cancelling ctx and is safe against a process
// that already exited. Adapters are stateless per call, so one Backend value
// may serve concurrent compiles for distinct targets.
type Backend interface {
	Name() string
	IsAvailable(ctx context.Context) bool
	Compile(ctx context.Context, desc Descriptor, onOutput func(chunk string)) (*BuildResult, error)
	Clean(ctx context.Context, desc Descriptor) CleanResult
}

// Config carries adapter construction options shared by all backends.
type Config struct {
	LatexmkPath    string
	TectonicPath   string
	CompileTimeout time.Duration // default per-compile budget
	KillGrace      time.Duration // delay between SIGTERM and SIGKILL
}

// DefaultConfig returns adapter defaults suitable for a local toolchain.
func DefaultConfig() Config {
	return Config{
		LatexmkPath:    "latexmk",
		TectonicPath:   "tectonic",
		CompileTimeout: 3 * time.Minute,
		KillGrace:      2 * time.Second,
	}
}

// New constructs the named backend adapter. Known names are "latexmk" and
// "tectonic".
func New(name string, cfg Config, extractor DiagnosticsExtractor, logger *slog.Logger) (Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch name {
	case "latexmk", "":
		return NewLatexmk(cfg, extractor, logger), nil
	case "tectonic":
		return NewTectonic(cfg, extractor, logger), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", name)
	}
}
