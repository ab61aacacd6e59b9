// Package config loads and validates run parameters from a YAML file and
// merges command-line overrides on top.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// Params holds everything a test-generation run needs. File paths in
// AddedFiles, AddedDirectories, and the snakefile path are interpreted
// relative to PipelineTopDir.
type Params struct {
	// OutputTestDir is where per-rule test directories are created.
	OutputTestDir string `yaml:"output-test-dir"`
	// SnakefileRelPath locates the entry snakefile inside the pipeline.
	SnakefileRelPath string `yaml:"snakefile"`
	// PipelineTopDir is the installed pipeline root.
	PipelineTopDir string `yaml:"pipeline-top-dir"`
	// PipelineRunDir is the directory, relative to PipelineTopDir, from
	// which the pipeline was actually run and under which its inputs and
	// outputs live.
	PipelineRunDir string `yaml:"pipeline-run-dir"`
	// InstDir holds the test and runner script assets to instantiate.
	InstDir string `yaml:"inst-dir"`
	// SnakemakeLog is the captured dry-run log to solve rules from.
	SnakemakeLog string `yaml:"snakemake-log"`

	AddedFiles       []string `yaml:"added-files"`
	AddedDirectories []string `yaml:"added-directories"`
	ExcludeRules     []string `yaml:"exclude-rules"`
	// ComparisonExclusions lists filename extensions whose contents are
	// skipped during expected-versus-observed comparison.
	ComparisonExclusions []string `yaml:"comparison-exclusions"`

	// IncludeEntireDAG stages the full transitive ancestry of each rule
	// instead of only its direct parents.
	IncludeEntireDAG bool `yaml:"include-entire-dag"`

	// Update toggles select which parts of existing test directories are
	// regenerated. None set means everything is emitted.
	UpdateAll          bool `yaml:"-"`
	UpdateSnakefiles   bool `yaml:"-"`
	UpdateAddedContent bool `yaml:"-"`
	UpdateConfig       bool `yaml:"-"`
	UpdateInputs       bool `yaml:"-"`
	UpdateOutputs      bool `yaml:"-"`
	UpdatePytest       bool `yaml:"-"`

	Verbose bool `yaml:"-"`
}

// schema constrains the YAML configuration shape before it is trusted.
const schema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "output-test-dir": {"type": "string", "minLength": 1},
    "snakefile": {"type": "string", "minLength": 1},
    "pipeline-top-dir": {"type": "string"},
    "pipeline-run-dir": {"type": "string"},
    "inst-dir": {"type": "string"},
    "snakemake-log": {"type": "string"},
    "added-files": {"type": "array", "items": {"type": "string"}},
    "added-directories": {"type": "array", "items": {"type": "string"}},
    "exclude-rules": {"type": "array", "items": {"type": "string"}},
    "comparison-exclusions": {"type": "array", "items": {"type": "string"}},
    "include-entire-dag": {"type": "boolean"}
  }
}`

// LoadFile reads a YAML configuration file, checks it against the embedded
// schema, and unmarshals it.
func LoadFile(path string) (*Params, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var generic any
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	// round-trip through JSON so the instance carries the types the schema
	// validator expects
	encoded, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("encoding config for validation: %w", err)
	}
	var instance any
	if err := json.Unmarshal(encoded, &instance); err != nil {
		return nil, fmt.Errorf("decoding config for validation: %w", err)
	}
	compiled, err := jsonschema.CompileString("config.schema.json", schema)
	if err != nil {
		return nil, fmt.Errorf("compiling config schema: %w", err)
	}
	if err := compiled.Validate(instance); err != nil {
		return nil, fmt.Errorf("config file %s failed validation: %w", path, err)
	}

	params := &Params{}
	if err := yaml.Unmarshal(raw, params); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return params, nil
}

// Validate checks that the merged parameters are complete enough to run.
func (p *Params) Validate() error {
	required := []struct {
		value, name string
	}{
		{p.OutputTestDir, "output-test-dir"},
		{p.SnakefileRelPath, "snakefile"},
		{p.PipelineTopDir, "pipeline-top-dir"},
		{p.InstDir, "inst-dir"},
		{p.SnakemakeLog, "snakemake-log"},
	}
	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("required parameter %q is not set in the config file or on the command line", r.name)
		}
	}
	return nil
}

// ExcludedRuleSet returns the configured exclusions as a set. The aggregation
// target is always excluded: a workspace for it would re-run the entire
// pipeline.
func (p *Params) ExcludedRuleSet() map[string]bool {
	set := map[string]bool{"all": true}
	for _, name := range p.ExcludeRules {
		set[name] = true
	}
	return set
}

// EmitSnakefiles reports whether pruned workflow files should be written.
func (p *Params) EmitSnakefiles() bool { return p.emitEverything() || p.UpdateAll || p.UpdateSnakefiles }

// EmitAddedContent reports whether configured extra files and directories
// should be staged.
func (p *Params) EmitAddedContent() bool {
	return p.emitEverything() || p.UpdateAll || p.UpdateAddedContent || p.UpdateConfig
}

// EmitInputs reports whether rule input artifacts should be staged.
func (p *Params) EmitInputs() bool { return p.emitEverything() || p.UpdateAll || p.UpdateInputs }

// EmitOutputs reports whether expected output artifacts should be staged.
func (p *Params) EmitOutputs() bool { return p.emitEverything() || p.UpdateAll || p.UpdateOutputs }

// EmitPytest reports whether test scripts and the shared runner should be
// instantiated.
func (p *Params) EmitPytest() bool { return p.emitEverything() || p.UpdateAll || p.UpdatePytest }

// emitEverything is the default when no update toggle was given.
func (p *Params) emitEverything() bool {
	return !p.UpdateAll && !p.UpdateSnakefiles && !p.UpdateAddedContent &&
		!p.UpdateConfig && !p.UpdateInputs && !p.UpdateOutputs && !p.UpdatePytest
}
