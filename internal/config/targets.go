package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"texforge/internal/backend"
)

// Target is one persisted per-target build configuration. Submissions may
// reference a named target instead of spelling out a full descriptor.
type Target struct {
	Root        string   `yaml:"root"`
	Entrypoint  string   `yaml:"entrypoint"`
	Engine      string   `yaml:"engine"`
	OutputDir   string   `yaml:"output_dir"`
	ShellEscape bool     `yaml:"shell_escape"`
	ExtraArgs   []string `yaml:"extra_args"`
	Timeout     string   `yaml:"timeout"` // Go duration string, e.g. "90s"
}

type targetsFile struct {
	Targets map[string]Target `yaml:"targets"`
}

// LoadTargets parses a targets YAML file. A missing path yields an empty map.
func LoadTargets(path string) (map[string]Target, error) {
	if path == "" {
		return map[string]Target{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading targets file: %w", err)
	}
	var f targetsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing targets file: %w", err)
	}
	for name, t := range f.Targets {
		if t.Root == "" {
			return nil, fmt.Errorf("target %q: root is required", name)
		}
		if t.Entrypoint == "" {
			return nil, fmt.Errorf("target %q: entrypoint is required", name)
		}
		if t.Timeout != "" {
			if _, err := time.ParseDuration(t.Timeout); err != nil {
				return nil, fmt.Errorf("target %q: invalid timeout: %w", name, err)
			}
		}
	}
	if f.Targets == nil {
		f.Targets = map[string]Target{}
	}
	return f.Targets, nil
}

// Descriptor converts the persisted target into a compile descriptor.
func (t Target) Descriptor() backend.Descriptor {
	d := backend.Descriptor{
		TargetKey:   t.Root,
		Entrypoint:  t.Entrypoint,
		Engine:      backend.Engine(t.Engine),
		OutputDir:   t.OutputDir,
		ShellEscape: t.ShellEscape,
		ExtraArgs:   t.ExtraArgs,
	}
	if t.Timeout != "" {
		if dur, err := time.ParseDuration(t.Timeout); err == nil {
			d.Timeout = dur
		}
	}
	return d
}
