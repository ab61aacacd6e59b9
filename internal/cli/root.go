// Package cli defines the command-line interface for generating snakemake
// unit test workspaces.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cpalmer718/snakemake-unit-tests/internal/config"
	"github.com/cpalmer718/snakemake-unit-tests/internal/logging"
	"github.com/cpalmer718/snakemake-unit-tests/internal/report"
	"github.com/cpalmer718/snakemake-unit-tests/internal/snakefile"
	"github.com/cpalmer718/snakemake-unit-tests/internal/solvedlog"
	"github.com/cpalmer718/snakemake-unit-tests/internal/workspace"
)

type rootFlags struct {
	configFile string
	logFormat  string
	logLevel   string

	params config.Params
}

// NewRootCmd creates the root cobra command.
func NewRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:   "snakemake-unit-tests",
		Short: "Generate per-rule pytest workspaces from a snakemake pipeline run",
		Long: `snakemake-unit-tests parses a pipeline's workflow sources together with a
captured dry-run log, then emits one isolated test directory per solved rule:
a pruned workflow file, staged input artifacts, expected outputs, and an
instantiated pytest script to compare them.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(cmd, flags)
		},
	}

	fs := root.Flags()
	fs.StringVarP(&flags.configFile, "config", "c", "", "YAML configuration file; command-line flags override its entries")
	fs.StringVarP(&flags.params.OutputTestDir, "output-test-dir", "o", "", "Directory in which to emit tests")
	fs.StringVarP(&flags.params.SnakefileRelPath, "snakefile", "s", "", "Entry snakefile, relative to the pipeline top directory")
	fs.StringVarP(&flags.params.PipelineTopDir, "pipeline-top-dir", "p", "", "Installed pipeline root directory")
	fs.StringVar(&flags.params.PipelineRunDir, "pipeline-run-dir", "", "Run directory relative to the pipeline top directory")
	fs.StringVarP(&flags.params.InstDir, "inst-dir", "i", "", "Directory containing test.py, common.py, and pytest_runner.bash schematics")
	fs.StringVarP(&flags.params.SnakemakeLog, "snakemake-log", "l", "", "Captured snakemake dry-run log")
	fs.StringArrayVarP(&flags.params.AddedFiles, "added-files", "f", nil, "Extra files to stage into every workspace")
	fs.StringArrayVarP(&flags.params.AddedDirectories, "added-directories", "d", nil, "Extra directories to stage into every workspace")
	fs.StringArrayVarP(&flags.params.ExcludeRules, "exclude-rules", "e", nil, "Rules to skip during test emission")
	fs.StringArrayVar(&flags.params.ComparisonExclusions, "comparison-exclusions", nil, "Filename extensions excluded from output comparison")
	fs.BoolVar(&flags.params.IncludeEntireDAG, "include-entire-dag", false, "Stage the full transitive ancestry of each rule, not just direct parents")
	fs.BoolVar(&flags.params.UpdateAll, "update-all", false, "Regenerate every category of existing test content")
	fs.BoolVar(&flags.params.UpdateSnakefiles, "update-snakefiles", false, "Regenerate only pruned workflow files")
	fs.BoolVar(&flags.params.UpdateAddedContent, "update-added-content", false, "Regenerate only configured added files and directories")
	fs.BoolVar(&flags.params.UpdateConfig, "update-config", false, "Regenerate content controlled by the configuration file")
	fs.BoolVar(&flags.params.UpdateInputs, "update-inputs", false, "Regenerate only staged rule inputs")
	fs.BoolVar(&flags.params.UpdateOutputs, "update-outputs", false, "Regenerate only expected outputs")
	fs.BoolVar(&flags.params.UpdatePytest, "update-pytest", false, "Regenerate only test and launcher scripts")
	fs.BoolVarP(&flags.params.Verbose, "verbose", "v", false, "Emit debug logging")
	fs.StringVar(&flags.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	fs.StringVar(&flags.logFormat, "log-format", "text", "Log format (text, json)")

	return root
}

func runGenerate(cmd *cobra.Command, flags *rootFlags) error {
	params, err := mergeParams(cmd, flags)
	if err != nil {
		return err
	}
	if err := params.Validate(); err != nil {
		return err
	}

	level := flags.logLevel
	if params.Verbose {
		level = "debug"
	}
	logger := logging.NewWithWriter(level, flags.logFormat, cmd.ErrOrStderr())
	rep := report.New(cmd.OutOrStdout())

	excluded := params.ExcludedRuleSet()

	lines, err := solvedlog.ReadLines(params.SnakemakeLog)
	if err != nil {
		return fmt.Errorf("reading run log: %w", err)
	}
	missing, err := solvedlog.FindMissingRules(lines)
	if err != nil {
		return err
	}
	for _, name := range missing {
		rep.Warnf("rule %q is referenced in the run log but not defined; its test is skipped", name)
		excluded[name] = true
	}

	solved, err := solvedlog.ParseLogLines(lines, logger, rep)
	if err != nil {
		return err
	}

	doc, err := snakefile.LoadWorkflow(params.SnakefileRelPath, params.PipelineTopDir, logger)
	if err != nil {
		return err
	}
	for _, name := range doc.DetectKnownIssues(excluded, rep) {
		rep.Warnf("rule %q is excluded from emission due to conflicting declarations", name)
		excluded[name] = true
	}
	if err := doc.ResolveDerivedRules(); err != nil {
		return err
	}

	return workspace.NewSynthesizer(params, doc, solved, logger, rep).EmitTests(excluded)
}

// mergeParams loads the configuration file, if given, and lays explicitly set
// command-line flags over it.
func mergeParams(cmd *cobra.Command, flags *rootFlags) (*config.Params, error) {
	if flags.configFile == "" {
		return &flags.params, nil
	}
	params, err := config.LoadFile(flags.configFile)
	if err != nil {
		return nil, err
	}

	overrides := map[string]func(){
		"output-test-dir":       func() { params.OutputTestDir = flags.params.OutputTestDir },
		"snakefile":             func() { params.SnakefileRelPath = flags.params.SnakefileRelPath },
		"pipeline-top-dir":      func() { params.PipelineTopDir = flags.params.PipelineTopDir },
		"pipeline-run-dir":      func() { params.PipelineRunDir = flags.params.PipelineRunDir },
		"inst-dir":              func() { params.InstDir = flags.params.InstDir },
		"snakemake-log":         func() { params.SnakemakeLog = flags.params.SnakemakeLog },
		"added-files":           func() { params.AddedFiles = append(params.AddedFiles, flags.params.AddedFiles...) },
		"added-directories":     func() { params.AddedDirectories = append(params.AddedDirectories, flags.params.AddedDirectories...) },
		"exclude-rules":         func() { params.ExcludeRules = append(params.ExcludeRules, flags.params.ExcludeRules...) },
		"comparison-exclusions": func() { params.ComparisonExclusions = append(params.ComparisonExclusions, flags.params.ComparisonExclusions...) },
		"include-entire-dag":    func() { params.IncludeEntireDAG = flags.params.IncludeEntireDAG },
	}
	for name, apply := range overrides {
		if cmd.Flags().Changed(name) {
			apply()
		}
	}

	params.UpdateAll = flags.params.UpdateAll
	params.UpdateSnakefiles = flags.params.UpdateSnakefiles
	params.UpdateAddedContent = flags.params.UpdateAddedContent
	params.UpdateConfig = flags.params.UpdateConfig
	params.UpdateInputs = flags.params.UpdateInputs
	params.UpdateOutputs = flags.params.UpdateOutputs
	params.UpdatePytest = flags.params.UpdatePytest
	params.Verbose = flags.params.Verbose
	return params, nil
}
