package workspace

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/stevenle/topsort"

	"github.com/cpalmer718/snakemake-unit-tests/internal/config"
	"github.com/cpalmer718/snakemake-unit-tests/internal/report"
	"github.com/cpalmer718/snakemake-unit-tests/internal/snakefile"
	"github.com/cpalmer718/snakemake-unit-tests/internal/solvedlog"
)

// Synthesizer turns solved recipes plus the resolved workflow document into
// per-rule test workspaces.
type Synthesizer struct {
	params *config.Params
	doc    *snakefile.Document
	solved *solvedlog.SolvedWorkflow
	logger *slog.Logger
	rep    *report.Report
}

// NewSynthesizer wires a synthesizer over already-loaded inputs.
func NewSynthesizer(params *config.Params, doc *snakefile.Document,
	solved *solvedlog.SolvedWorkflow, logger *slog.Logger, rep *report.Report) *Synthesizer {
	return &Synthesizer{
		params: params,
		doc:    doc,
		solved: solved,
		logger: logger.With("component", "workspace"),
		rep:    rep,
	}
}

// EmitTests creates one test directory per logged rule, first recipe per
// rule name, skipping excluded rules. Layout per rule under
// <output-test-dir>/unit/<rule>/: workspace/ holds the pruned workflow file
// and staged inputs, expected/ holds the artifacts the rule produced in the
// recorded run. Test scripts land beside the rule directories and the shared
// launcher at the test root.
func (s *Synthesizer) EmitTests(excluded map[string]bool) error {
	unitDir := filepath.Join(s.params.OutputTestDir, "unit")
	if err := os.MkdirAll(unitDir, 0o755); err != nil {
		return fmt.Errorf("creating unit test directory: %w", err)
	}

	checkpoints := s.solved.ComputeDependencyCheckpoints()
	sourceBase := filepath.Join(s.params.PipelineTopDir, s.params.PipelineRunDir)

	emitted := map[string]bool{}
	count := 0
	for _, rec := range s.solved.Recipes {
		if emitted[rec.Rule] || excluded[rec.Rule] {
			continue
		}
		emitted[rec.Rule] = true
		if err := s.emitRuleTest(rec, unitDir, sourceBase, checkpoints[rec.Rule]); err != nil {
			return fmt.Errorf("emitting test for rule %q: %w", rec.Rule, err)
		}
		count++
	}

	if s.params.EmitPytest() {
		if err := copyFile(filepath.Join(s.params.InstDir, "common.py"),
			filepath.Join(unitDir, "common.py")); err != nil {
			return fmt.Errorf("staging shared test helpers: %w", err)
		}
		if err := WriteLauncherScript(s.params.OutputTestDir, s.params.OutputTestDir,
			filepath.Join(s.params.InstDir, "pytest_runner.bash")); err != nil {
			return err
		}
	}

	s.logger.Info("emitted tests", "rules", count, "directory", unitDir)
	s.rep.Printf("emitted %d rule test(s) under %s", count, unitDir)
	return nil
}

func (s *Synthesizer) emitRuleTest(rec *solvedlog.Recipe, unitDir, sourceBase string,
	dependencyCheckpoints []string) error {
	ruleDir := filepath.Join(unitDir, rec.Rule)
	workspaceDir := filepath.Join(ruleDir, "workspace")
	expectedDir := filepath.Join(ruleDir, "expected")
	for _, dir := range []string{workspaceDir, expectedDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating rule directories: %w", err)
		}
	}

	deps := map[string]*solvedlog.Recipe{}
	if err := s.solved.AddDAGFromLeaf(rec, s.params.IncludeEntireDAG, deps); err != nil {
		return err
	}
	for _, cp := range dependencyCheckpoints {
		if _, ok := deps[cp]; ok {
			continue
		}
		cpRec, ok := s.solved.RecipeFor(cp)
		if !ok {
			return fmt.Errorf("checkpoint %q required by dependency closure has no logged recipe", cp)
		}
		deps[cp] = cpRec
	}

	if s.params.EmitSnakefiles() {
		if err := s.writeSnakefile(rec, deps, workspaceDir); err != nil {
			return err
		}
	}

	if s.params.EmitInputs() {
		recipes := append([]*solvedlog.Recipe{rec}, recipeValues(deps)...)
		for _, r := range recipes {
			for _, input := range r.Inputs {
				if producer, ok := s.solved.Producer(input); ok && r != rec {
					// regenerated during the test run, but only when the
					// producing rule is actually in the emitted closure;
					// anything upstream of the closure must be staged or
					// the pruned workflow cannot satisfy its DAG
					if _, inClosure := deps[producer.Rule]; inClosure {
						continue
					}
				}
				if err := stageRelative(input, sourceBase, workspaceDir, "input file", r.Rule); err != nil {
					return err
				}
			}
		}
	}

	if s.params.EmitOutputs() {
		for _, output := range rec.Outputs {
			if err := stageRelative(output, sourceBase, expectedDir, "output file", rec.Rule); err != nil {
				return err
			}
		}
	}

	if s.params.EmitAddedContent() {
		for _, added := range s.params.AddedFiles {
			if err := stageRelative(added, sourceBase, workspaceDir, "added file", ""); err != nil {
				return err
			}
		}
		for _, added := range s.params.AddedDirectories {
			src := filepath.Join(sourceBase, added)
			info, err := os.Stat(src)
			if err != nil || !info.IsDir() {
				return fmt.Errorf("cannot find added directory %q", src)
			}
			if err := copyTree(src, filepath.Join(workspaceDir, added)); err != nil {
				return fmt.Errorf("staging added directory %q: %w", added, err)
			}
		}
	}

	if s.params.EmitPytest() {
		if err := WriteTestScript(unitDir, s.params.OutputTestDir, rec.Rule,
			s.params.SnakefileRelPath, s.params.PipelineRunDir,
			s.params.ComparisonExclusions,
			filepath.Join(s.params.InstDir, "test.py")); err != nil {
			return err
		}
	}

	s.logger.Debug("emitted rule test", "rule", rec.Rule,
		"dependencies", len(deps), "checkpoints", len(dependencyCheckpoints))
	return nil
}

// writeSnakefile emits the pruned workflow file for one rule at the
// configured relative path inside the workspace, followed by a phony
// aggregation target listing the closure's outputs in dependency order so
// the test invocation builds everything bottom-up.
func (s *Synthesizer) writeSnakefile(rec *solvedlog.Recipe,
	deps map[string]*solvedlog.Recipe, workspaceDir string) error {
	selected := map[string]bool{rec.Rule: true}
	for name := range deps {
		selected[name] = true
	}

	target := filepath.Join(workspaceDir, s.params.SnakefileRelPath)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("creating workflow directory: %w", err)
	}
	f, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("creating synthetic workflow file: %w", err)
	}
	defer f.Close()

	if err := s.doc.WriteSelectedRules(selected, f); err != nil {
		return err
	}

	ordered, err := s.orderClosure(rec, deps)
	if err != nil {
		return err
	}
	var targets []string
	for _, name := range ordered {
		r := rec
		if name != rec.Rule {
			r = deps[name]
		}
		targets = append(targets, r.Outputs...)
	}
	if err := writePhonyAllTarget(f, targets); err != nil {
		return fmt.Errorf("writing aggregation target: %w", err)
	}
	return f.Close()
}

// orderClosure sorts the rule closure dependencies-first.
func (s *Synthesizer) orderClosure(rec *solvedlog.Recipe,
	deps map[string]*solvedlog.Recipe) ([]string, error) {
	graph := topsort.NewGraph()
	graph.AddNode(rec.Rule)
	for name := range deps {
		graph.AddNode(name)
	}
	addEdges := func(r *solvedlog.Recipe) error {
		for _, input := range r.Inputs {
			parent, ok := s.solved.Producer(input)
			if !ok {
				continue
			}
			if _, inClosure := deps[parent.Rule]; !inClosure {
				continue
			}
			if err := graph.AddEdge(r.Rule, parent.Rule); err != nil {
				return err
			}
		}
		return nil
	}
	if err := addEdges(rec); err != nil {
		return nil, err
	}
	for _, r := range deps {
		if err := addEdges(r); err != nil {
			return nil, err
		}
	}
	ordered, err := graph.TopSort(rec.Rule)
	if err != nil {
		return nil, fmt.Errorf("ordering rule closure: %w", err)
	}
	// rules unreachable from the target, such as checkpoints pulled in by
	// DAG re-evaluation, still need their outputs built
	seen := map[string]bool{}
	for _, name := range ordered {
		seen[name] = true
	}
	for name := range deps {
		if !seen[name] {
			ordered = append([]string{name}, ordered...)
		}
	}
	return ordered, nil
}

// writePhonyAllTarget appends the aggregation rule driving the test run.
func writePhonyAllTarget(w io.Writer, targets []string) error {
	var sb strings.Builder
	sb.WriteString("rule all:\n    input:\n")
	for _, t := range targets {
		fmt.Fprintf(&sb, "        %q,\n", t)
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

func recipeValues(deps map[string]*solvedlog.Recipe) []*solvedlog.Recipe {
	out := make([]*solvedlog.Recipe, 0, len(deps))
	for _, r := range deps {
		out = append(out, r)
	}
	return out
}
