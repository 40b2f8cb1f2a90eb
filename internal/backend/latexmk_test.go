package backend

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

type stubExtractor struct {
	diags []Diagnostic
}

func (s *stubExtractor) Extract(logText, rootDir string) []Diagnostic {
	return s.diags
}

func TestLatexmkBuildArgs(t *testing.T) {
	l := NewLatexmk(Config{}, nil, discardLogger())

	tests := []struct {
		name string
		desc Descriptor
		want []string
	}{
		{
			name: "defaults to pdflatex",
			desc: Descriptor{Entrypoint: "main.tex"},
			want: []string{"-interaction=nonstopmode", "-file-line-error", "-synctex=1", "-pdf", "main.tex"},
		},
		{
			name: "xelatex engine",
			desc: Descriptor{Entrypoint: "main.tex", Engine: EngineXeLaTeX},
			want: []string{"-interaction=nonstopmode", "-file-line-error", "-synctex=1", "-pdfxe", "main.tex"},
		},
		{
			name: "lualatex engine",
			desc: Descriptor{Entrypoint: "main.tex", Engine: EngineLuaLaTeX},
			want: []string{"-interaction=nonstopmode", "-file-line-error", "-synctex=1", "-pdflua", "main.tex"},
		},
		{
			name: "shell escape, outdir and extra args",
			desc: Descriptor{
				Entrypoint:  "thesis.tex",
				Engine:      EnginePDFLaTeX,
				OutputDir:   "out",
				ShellEscape: true,
				ExtraArgs:   []string{"-quiet"},
			},
			want: []string{"-interaction=nonstopmode", "-file-line-error", "-synctex=1", "-pdf", "-shell-escape", "-outdir=out", "-quiet", "thesis.tex"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := l.buildArgs(tt.desc)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("args = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLatexmkIsAvailableMissingBinary(t *testing.T) {
	l := NewLatexmk(Config{LatexmkPath: "definitely-not-a-real-binary-xyz"}, nil, discardLogger())
	if l.IsAvailable(context.Background()) {
		t.Fatal("expected missing binary to be unavailable")
	}
}

func TestLatexmkCompileEmptyEntrypoint(t *testing.T) {
	l := NewLatexmk(Config{}, nil, discardLogger())
	res, err := l.Compile(context.Background(), Descriptor{TargetKey: t.TempDir()}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Success || len(res.Diagnostics) != 1 || res.Diagnostics[0].Code != "descriptor" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestLatexmkCompileSpawnFailure(t *testing.T) {
	l := NewLatexmk(Config{LatexmkPath: "definitely-not-a-real-binary-xyz"}, nil, discardLogger())
	res, err := l.Compile(context.Background(), Descriptor{
		TargetKey:  t.TempDir(),
		Entrypoint: "main.tex",
	}, nil)
	if err != nil {
		t.Fatalf("spawn failure must become a result, got error: %v", err)
	}
	if res.Success {
		t.Fatal("expected failure")
	}
	if len(res.Diagnostics) != 1 || res.Diagnostics[0].Code != "spawn" || res.Diagnostics[0].Severity != SeverityError {
		t.Fatalf("unexpected diagnostics: %+v", res.Diagnostics)
	}
}

func TestLatexmkInspectSuccess(t *testing.T) {
	root := t.TempDir()
	outDir := filepath.Join(root, "out")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(outDir, "main.pdf"), []byte("%PDF-1.5"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(outDir, "main.log"), []byte("Output written on out/main.pdf"), 0o644); err != nil {
		t.Fatal(err)
	}

	l := NewLatexmk(Config{}, &stubExtractor{}, discardLogger())
	desc := Descriptor{TargetKey: root, Entrypoint: "main.tex", OutputDir: "out"}
	res := l.inspect(desc, procResult{ExitCode: 0, Duration: time.Second}, "")

	if !res.Success {
		t.Fatalf("expected success: %+v", res)
	}
	if res.ArtifactPath != filepath.Join(outDir, "main.pdf") {
		t.Fatalf("artifact = %s", res.ArtifactPath)
	}
	if res.LogPath != filepath.Join(outDir, "main.log") {
		t.Fatalf("log = %s", res.LogPath)
	}
}

func TestLatexmkInspectMissingArtifact(t *testing.T) {
	root := t.TempDir()
	l := NewLatexmk(Config{}, &stubExtractor{}, discardLogger())
	desc := Descriptor{TargetKey: root, Entrypoint: "main.tex"}
	res := l.inspect(desc, procResult{ExitCode: 0}, "")

	if res.Success {
		t.Fatal("success without an artifact")
	}
	if !hasSeverity(res.Diagnostics, SeverityError) {
		t.Fatalf("expected a fallback error diagnostic: %+v", res.Diagnostics)
	}
}

func TestLatexmkInspectKeepsExtractedErrors(t *testing.T) {
	root := t.TempDir()
	extracted := []Diagnostic{{Severity: SeverityError, Message: "Undefined control sequence", Line: 5}}
	l := NewLatexmk(Config{}, &stubExtractor{diags: extracted}, discardLogger())
	res := l.inspect(Descriptor{TargetKey: root, Entrypoint: "main.tex"}, procResult{ExitCode: 1}, "")

	if res.Success {
		t.Fatal("expected failure")
	}
	// The extractor found a real error, so no generic fallback is appended.
	if len(res.Diagnostics) != 1 || res.Diagnostics[0].Message != "Undefined control sequence" {
		t.Fatalf("unexpected diagnostics: %+v", res.Diagnostics)
	}
}

func TestToolPath(t *testing.T) {
	desc := Descriptor{TargetKey: "/proj", Entrypoint: "chapters/main.tex", OutputDir: "build"}
	if got := toolPath(desc, ".pdf"); got != filepath.Join("/proj", "build", "main.pdf") {
		t.Fatalf("toolPath = %s", got)
	}
	desc.OutputDir = ""
	if got := toolPath(desc, ".log"); got != filepath.Join("/proj", "main.log") {
		t.Fatalf("toolPath = %s", got)
	}
}

func TestNewSelectsBackend(t *testing.T) {
	for name, wantName := range map[string]string{"latexmk": "latexmk", "": "latexmk", "tectonic": "tectonic"} {
		b, err := New(name, Config{}, nil, discardLogger())
		if err != nil {
			t.Fatalf("New(%q): %v", name, err)
		}
		if b.Name() != wantName {
			t.Fatalf("New(%q).Name() = %s, want %s", name, b.Name(), wantName)
		}
	}
	if _, err := New("gcc", Config{}, nil, discardLogger()); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}
