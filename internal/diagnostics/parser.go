// Package diagnostics extracts structured error and warning records from
// raw TeX toolchain log output.
package diagnostics

import (
	"regexp"
	"strconv"
	"strings"

	"texforge/internal/backend"
)

var (
	// ./chapter/intro.tex:12: Undefined control sequence.
	fileLineErrorRe = regexp.MustCompile(`^(\.?/?[^:\s]+\.\w+):(\d+):\s*(.+)$`)
	// Package hyperref Warning: Token not allowed ...
	packageWarningRe = regexp.MustCompile(`^Package\s+(\S+)\s+Warning:\s*(.+)$`)
	// LaTeX Warning: Reference `fig:one' on page 3 undefined on input line 40.
	latexWarningRe = regexp.MustCompile(`^LaTeX\s+Warning:\s*(.+)$`)
	// l.42 \undefinedmacro
	errorLineRe = regexp.MustCompile(`^l\.(\d+)`)
	// on input line 40.
	inputLineRe = regexp.MustCompile(`on input line (\d+)`)
	boxRe       = regexp.MustCompile(`^(Overfull|Underfull) \\[hv]box`)
)

// Parser implements backend.DiagnosticsExtractor for latexmk/pdflatex style
// logs. It recognizes file-line-error records, bare "!" errors with their
// trailing l.<n> position, LaTeX and package warnings, and box complaints.
type Parser struct{}

func New() *Parser { return &Parser{} }

// Extract scans the log text line by line and returns the structured records
// found, in log order. rootDir is only used to keep file references relative;
// absolute paths outside the root are reported as-is.
func (p *Parser) Extract(logText string, rootDir string) []backend.Diagnostic {
	var out []backend.Diagnostic
	lines := strings.Split(logText, "\n")

	for i := 0; i < len(lines); i++ {
		line := strings.TrimRight(lines[i], "\r")

		if m := fileLineErrorRe.FindStringSubmatch(line); m != nil {
			n, _ := strconv.Atoi(m[2])
			out = append(out, backend.Diagnostic{
				Severity: backend.SeverityError,
				File:     relativize(m[1], rootDir),
				Line:     n,
				Message:  strings.TrimSpace(m[3]),
				Raw:      line,
			})
			continue
		}

		if strings.HasPrefix(line, "! ") {
			d := backend.Diagnostic{
				Severity: backend.SeverityError,
				Message:  strings.TrimSpace(strings.TrimPrefix(line, "! ")),
				Raw:      line,
			}
			// The offending line number trails the error a few lines later.
			for j := i + 1; j < len(lines) && j <= i+6; j++ {
				if m := errorLineRe.FindStringSubmatch(lines[j]); m != nil {
					d.Line, _ = strconv.Atoi(m[1])
					break
				}
			}
			out = append(out, d)
			continue
		}

		if m := packageWarningRe.FindStringSubmatch(line); m != nil {
			d := backend.Diagnostic{
				Severity: backend.SeverityWarning,
				Message:  strings.TrimSpace(m[2]),
				Raw:      line,
				Code:     m[1],
			}
			if lm := inputLineRe.FindStringSubmatch(line); lm != nil {
				d.Line, _ = strconv.Atoi(lm[1])
			}
			out = append(out, d)
			continue
		}

		if m := latexWarningRe.FindStringSubmatch(line); m != nil {
			d := backend.Diagnostic{
				Severity: backend.SeverityWarning,
				Message:  strings.TrimSpace(m[1]),
				Raw:      line,
			}
			if lm := inputLineRe.FindStringSubmatch(line); lm != nil {
				d.Line, _ = strconv.Atoi(lm[1])
			}
			out = append(out, d)
			continue
		}

		if boxRe.MatchString(line) {
			out = append(out, backend.Diagnostic{
				Severity: backend.SeverityInfo,
				Message:  line,
				Raw:      line,
			})
		}
	}
	return out
}

func relativize(path, rootDir string) string {
	path = strings.TrimPrefix(path, "./")
	if rootDir != "" {
		path = strings.TrimPrefix(path, strings.TrimSuffix(rootDir, "/")+"/")
	}
	return path
}
