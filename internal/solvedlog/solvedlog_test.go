package solvedlog

import (
	"bytes"
	"reflect"
	"strings"
	"testing"

	"github.com/cpalmer718/snakemake-unit-tests/internal/logging"
	"github.com/cpalmer718/snakemake-unit-tests/internal/report"
)

func parseLog(t *testing.T, lines []string) (*SolvedWorkflow, *report.Report) {
	t.Helper()
	rep := report.New(&bytes.Buffer{})
	sw, err := ParseLogLines(lines, logging.Discard(), rep)
	if err != nil {
		t.Fatalf("ParseLogLines: %v", err)
	}
	return sw, rep
}

func TestParseLogLines_SingleRecipe(t *testing.T) {
	sw, _ := parseLog(t, []string{
		"Building DAG of jobs...",
		"rule combine:",
		"    input: results/a.txt, results/b.txt",
		"    output: results/combined.txt",
		"    log: logs/combine.log",
		"    jobid: 2",
		"    reason: Missing output files: results/combined.txt",
		"    threads: 4",
		"",
	})
	if len(sw.Recipes) != 1 {
		t.Fatalf("recipes = %d, want 1", len(sw.Recipes))
	}
	rec := sw.Recipes[0]
	if rec.Rule != "combine" || rec.Checkpoint {
		t.Errorf("header parsed wrong: %+v", rec)
	}
	if !reflect.DeepEqual(rec.Inputs, []string{"results/a.txt", "results/b.txt"}) {
		t.Errorf("inputs = %v", rec.Inputs)
	}
	if !reflect.DeepEqual(rec.Outputs, []string{"results/combined.txt"}) {
		t.Errorf("outputs = %v", rec.Outputs)
	}
	if rec.Log != "logs/combine.log" {
		t.Errorf("log = %q", rec.Log)
	}
}

func TestParseLogLines_HeaderWithTrailingText(t *testing.T) {
	sw, _ := parseLog(t, []string{
		"rule trimmed:  ",
		"    output: a.txt",
		"",
		"rule annotated: some trailing commentary",
		"    output: b.txt",
	})
	if len(sw.Recipes) != 2 {
		t.Fatalf("recipes = %d, want 2", len(sw.Recipes))
	}
	if sw.Recipes[0].Rule != "trimmed" || sw.Recipes[1].Rule != "annotated" {
		t.Errorf("rules = %q, %q", sw.Recipes[0].Rule, sw.Recipes[1].Rule)
	}
}

func TestParseLogLines_CheckpointHeader(t *testing.T) {
	sw, _ := parseLog(t, []string{
		"checkpoint cluster:",
		"    output: clusters/",
	})
	if !sw.Recipes[0].Checkpoint {
		t.Error("checkpoint flag not set")
	}
}

func TestParseLogLines_PlaceholderInputDropped(t *testing.T) {
	sw, _ := parseLog(t, []string{
		"rule aggregate:",
		"    input: <TBD>",
		"    output: final.txt",
	})
	if len(sw.Recipes[0].Inputs) != 0 {
		t.Errorf("placeholder input retained: %v", sw.Recipes[0].Inputs)
	}
}

func TestParseLogLines_UnknownKeyWarned(t *testing.T) {
	_, rep := parseLog(t, []string{
		"rule odd:",
		"    output: x.txt",
		"    container: docker://thing",
	})
	if len(rep.Warnings()) != 1 || !strings.Contains(rep.Warnings()[0], "container") {
		t.Errorf("warnings = %v", rep.Warnings())
	}
}

func TestParseLogLines_DuplicateOutputWarning(t *testing.T) {
	sw, rep := parseLog(t, []string{
		"rule first:",
		"    output: shared.txt",
		"",
		"rule second:",
		"    output: shared.txt",
	})
	var warning string
	for _, w := range rep.Warnings() {
		if strings.Contains(w, "at least one output file appears multiple times") {
			warning = w
		}
	}
	if warning == "" {
		t.Fatalf("expected duplicate output warning, got %v", rep.Warnings())
	}
	if !strings.Contains(warning, "shared.txt") {
		t.Errorf("warning should name the colliding path: %q", warning)
	}
	if !strings.Contains(warning, `"second"`) || !strings.Contains(warning, `"first"`) {
		t.Errorf("warning should name both producers: %q", warning)
	}
	rec, ok := sw.Producer("shared.txt")
	if !ok || rec.Rule != "second" {
		t.Errorf("last producer should win, got %+v", rec)
	}
}

func TestSplitCommaList(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"a.txt, b.txt", []string{"a.txt", "b.txt"}},
		{"file,with,commas.txt", []string{"file,with,commas.txt"}},
		{"solo.txt", []string{"solo.txt"}},
		{"", nil},
		{"  spaced.txt  ", []string{"spaced.txt"}},
	}
	for _, tt := range tests {
		if got := splitCommaList(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("splitCommaList(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func threeChain(t *testing.T) *SolvedWorkflow {
	t.Helper()
	sw, _ := parseLog(t, []string{
		"rule one:",
		"    output: step1.txt",
		"",
		"rule two:",
		"    input: step1.txt",
		"    output: step2.txt",
		"",
		"rule three:",
		"    input: step2.txt",
		"    output: step3.txt",
	})
	return sw
}

func TestAddDAGFromLeaf_ShallowStopsAtParents(t *testing.T) {
	sw := threeChain(t)
	rec, _ := sw.RecipeFor("three")
	deps := map[string]*Recipe{}
	if err := sw.AddDAGFromLeaf(rec, false, deps); err != nil {
		t.Fatalf("AddDAGFromLeaf: %v", err)
	}
	if len(deps) != 1 {
		t.Fatalf("deps = %v, want only the direct parent", deps)
	}
	if _, ok := deps["two"]; !ok {
		t.Errorf("direct parent missing: %v", deps)
	}
}

func TestAddDAGFromLeaf_TransitiveClosure(t *testing.T) {
	sw := threeChain(t)
	rec, _ := sw.RecipeFor("three")
	deps := map[string]*Recipe{}
	if err := sw.AddDAGFromLeaf(rec, true, deps); err != nil {
		t.Fatalf("AddDAGFromLeaf: %v", err)
	}
	if len(deps) != 2 {
		t.Fatalf("deps = %v, want both ancestors", deps)
	}
	for _, name := range []string{"one", "two"} {
		if _, ok := deps[name]; !ok {
			t.Errorf("ancestor %q missing: %v", name, deps)
		}
	}
}

func TestAddDAGFromLeaf_NilTarget(t *testing.T) {
	sw := threeChain(t)
	rec, _ := sw.RecipeFor("three")
	if err := sw.AddDAGFromLeaf(rec, true, nil); err == nil {
		t.Fatal("expected error for nil target map")
	}
}

func TestAddDAGFromLeaf_SourceInputsContributeNothing(t *testing.T) {
	sw, _ := parseLog(t, []string{
		"rule ingest:",
		"    input: raw/source.csv",
		"    output: tidy.csv",
	})
	rec, _ := sw.RecipeFor("ingest")
	deps := map[string]*Recipe{}
	if err := sw.AddDAGFromLeaf(rec, true, deps); err != nil {
		t.Fatalf("AddDAGFromLeaf: %v", err)
	}
	if len(deps) != 0 {
		t.Errorf("source-only inputs should add no dependencies: %v", deps)
	}
}

func TestComputeDependencyCheckpoints(t *testing.T) {
	sw, _ := parseLog(t, []string{
		"checkpoint split:",
		"    output: pieces/",
		"",
		"rule middle:",
		"    input: pieces/",
		"    output: mid.txt",
		"",
		"rule final:",
		"    input: mid.txt",
		"    output: done.txt",
		"",
		"rule unrelated:",
		"    output: other.txt",
	})
	cps := sw.ComputeDependencyCheckpoints()
	if !reflect.DeepEqual(cps["middle"], []string{"split"}) {
		t.Errorf("middle checkpoints = %v", cps["middle"])
	}
	if !reflect.DeepEqual(cps["final"], []string{"split"}) {
		t.Errorf("transitive checkpoint not propagated: %v", cps["final"])
	}
	if len(cps["unrelated"]) != 0 {
		t.Errorf("unrelated rule picked up checkpoints: %v", cps["unrelated"])
	}
}

func TestFindMissingRules(t *testing.T) {
	missing, err := FindMissingRules([]string{
		"some chatter",
		"AttributeError: 'Rules' object has no attribute 'phantom_rule'",
		"AttributeError: 'Checkpoints' object has no attribute 'ghost_checkpoint'",
		"AttributeError: 'Rules' object has no attribute 'phantom_rule'",
	})
	if err != nil {
		t.Fatalf("FindMissingRules: %v", err)
	}
	if !reflect.DeepEqual(missing, []string{"phantom_rule", "ghost_checkpoint"}) {
		t.Errorf("missing = %v", missing)
	}
}

func TestFindMissingRules_UnattributableException(t *testing.T) {
	_, err := FindMissingRules([]string{
		"WorkflowError in line 10: Exception: something else entirely",
	})
	if err == nil {
		t.Fatal("expected error for unattributable exception")
	}
	if !strings.Contains(err.Error(), "something else entirely") {
		t.Errorf("error should echo the line: %v", err)
	}
}
