// Package solvedlog parses snakemake dry-run execution logs into solved
// recipes and computes dependency closures over them.
package solvedlog

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/cpalmer718/snakemake-unit-tests/internal/report"
)

// Recipe is one solved job from the run log: a rule instantiation with its
// concrete input and output paths.
type Recipe struct {
	Rule       string
	Checkpoint bool
	Inputs     []string
	Outputs    []string
	Log        string
}

// SolvedWorkflow holds every recipe from a run log plus the output-to-producer
// index used for dependency resolution.
type SolvedWorkflow struct {
	Recipes []*Recipe

	outputProducer map[string]*Recipe
	firstByRule    map[string]*Recipe
	logger         *slog.Logger
}

var (
	jobHeaderPattern = regexp.MustCompile(`^(rule|checkpoint) ([^ :]+):.*$`)
	jobFieldPattern  = regexp.MustCompile(`^\s+([a-zA-Z_]+): ?(.*)$`)
)

// recognized job annotation keys. Only input, output, and log carry
// information the synthesizer needs; the rest are accepted and dropped.
var knownLogKeys = map[string]bool{
	"input":     true,
	"output":    true,
	"log":       true,
	"jobid":     true,
	"wildcards": true,
	"benchmark": true,
	"resources": true,
	"threads":   true,
	"priority":  true,
	"reason":    true,
}

// LoadLog reads a snakemake dry-run log from disk and parses it.
func LoadLog(path string, logger *slog.Logger, rep *report.Report) (*SolvedWorkflow, error) {
	lines, err := ReadLines(path)
	if err != nil {
		return nil, fmt.Errorf("loading run log: %w", err)
	}
	return ParseLogLines(lines, logger, rep)
}

// ParseLogLines parses dry-run log lines. A job section opens with a
// "rule name:" or "checkpoint name:" header and collects indented key/value
// annotations until the first blank or unindented line. Unrecognized keys are
// warned about and skipped. Placeholder inputs emitted for not-yet-solved
// checkpoint products are dropped.
func ParseLogLines(lines []string, logger *slog.Logger, rep *report.Report) (*SolvedWorkflow, error) {
	sw := &SolvedWorkflow{
		outputProducer: map[string]*Recipe{},
		firstByRule:    map[string]*Recipe{},
		logger:         logger.With("component", "solvedlog"),
	}

	var current *Recipe
	for i, line := range lines {
		if m := jobHeaderPattern.FindStringSubmatch(line); m != nil {
			current = &Recipe{Rule: m[2], Checkpoint: m[1] == "checkpoint"}
			sw.Recipes = append(sw.Recipes, current)
			if _, ok := sw.firstByRule[current.Rule]; !ok {
				sw.firstByRule[current.Rule] = current
			}
			continue
		}
		if current == nil {
			continue
		}
		if strings.TrimSpace(line) == "" {
			current = nil
			continue
		}
		m := jobFieldPattern.FindStringSubmatch(line)
		if m == nil {
			current = nil
			continue
		}
		key, value := m[1], m[2]
		if !knownLogKeys[key] {
			rep.Warnf("line %d: unrecognized annotation key %q in log entry for rule %q",
				i+1, key, current.Rule)
			continue
		}
		switch key {
		case "input":
			for _, entry := range splitCommaList(value) {
				if entry == "<TBD>" {
					// checkpoint-dependent input not yet known to the
					// scheduler at dry-run time
					continue
				}
				current.Inputs = append(current.Inputs, entry)
			}
		case "output":
			current.Outputs = append(current.Outputs, splitCommaList(value)...)
		case "log":
			current.Log = value
		}
	}

	var collisions []string
	for _, rec := range sw.Recipes {
		for _, out := range rec.Outputs {
			if prev, seen := sw.outputProducer[out]; seen {
				collisions = append(collisions,
					fmt.Sprintf("%s (rule %q supersedes rule %q)", out, rec.Rule, prev.Rule))
			}
			sw.outputProducer[out] = rec
		}
	}
	if len(collisions) > 0 {
		rep.Warnf("at least one output file appears multiple times in the run log; "+
			"dependency resolution will use the last producer encountered: %s",
			strings.Join(collisions, "; "))
	}

	sw.logger.Info("parsed run log", "recipes", len(sw.Recipes), "outputs", len(sw.outputProducer))
	return sw, nil
}

// splitCommaList splits a log annotation value on the exact two-character
// separator the logger emits. Filenames containing bare commas survive
// unsplit.
func splitCommaList(value string) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return strings.Split(value, ", ")
}

// ReadLines loads a log file into memory, one entry per physical line.
func ReadLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}

// Producer returns the recipe that creates the given output path.
func (sw *SolvedWorkflow) Producer(output string) (*Recipe, bool) {
	rec, ok := sw.outputProducer[output]
	return rec, ok
}

// RecipeFor returns the first logged recipe for the named rule.
func (sw *SolvedWorkflow) RecipeFor(rule string) (*Recipe, bool) {
	rec, ok := sw.firstByRule[rule]
	return rec, ok
}

// AddDAGFromLeaf records the rules the given recipe depends on into target,
// keyed by rule name. With fullTransitive false only direct parents are
// added; with it true the walk recurses through the whole ancestry. Inputs
// with no logged producer are pipeline-level source files and contribute no
// dependency.
func (sw *SolvedWorkflow) AddDAGFromLeaf(rec *Recipe, fullTransitive bool, target map[string]*Recipe) error {
	if target == nil {
		return fmt.Errorf("dependency accumulation requires a non-nil target map")
	}
	for _, input := range rec.Inputs {
		parent, ok := sw.outputProducer[input]
		if !ok {
			continue
		}
		if _, seen := target[parent.Rule]; seen {
			continue
		}
		target[parent.Rule] = parent
		if fullTransitive {
			if err := sw.AddDAGFromLeaf(parent, true, target); err != nil {
				return err
			}
		}
	}
	return nil
}

// ComputeDependencyCheckpoints returns, for every logged rule, the sorted
// checkpoint rule names appearing anywhere in its transitive ancestry. A rule
// downstream of a checkpoint cannot run in isolation without that checkpoint
// also present, because the scheduler re-evaluates the DAG from checkpoint
// products.
func (sw *SolvedWorkflow) ComputeDependencyCheckpoints() map[string][]string {
	memo := map[string]map[string]bool{}
	var walk func(rule string, visiting map[string]bool) map[string]bool
	walk = func(rule string, visiting map[string]bool) map[string]bool {
		if cached, ok := memo[rule]; ok {
			return cached
		}
		if visiting[rule] {
			return nil
		}
		visiting[rule] = true
		defer delete(visiting, rule)

		found := map[string]bool{}
		rec, ok := sw.firstByRule[rule]
		if !ok {
			memo[rule] = found
			return found
		}
		parents := map[string]*Recipe{}
		_ = sw.AddDAGFromLeaf(rec, false, parents)
		for name, parent := range parents {
			if parent.Checkpoint {
				found[name] = true
			}
			for cp := range walk(name, visiting) {
				found[cp] = true
			}
		}
		memo[rule] = found
		return found
	}

	result := map[string][]string{}
	for rule := range sw.firstByRule {
		set := walk(rule, map[string]bool{})
		names := make([]string, 0, len(set))
		for name := range set {
			names = append(names, name)
		}
		sort.Strings(names)
		result[rule] = names
	}
	return result
}

var missingAttributePattern = regexp.MustCompile(`'(Rules|Checkpoints)' object has no attribute '([^']+)'`)

// FindMissingRules scans log lines for scheduler attribute errors that name
// rules referenced but not defined. Exception lines that do not match the
// known missing-rule shape cannot be attributed to a rule and are a hard
// failure, reported verbatim.
func FindMissingRules(lines []string) ([]string, error) {
	var missing []string
	seen := map[string]bool{}
	var unhandled []string
	for _, line := range lines {
		if m := missingAttributePattern.FindStringSubmatch(line); m != nil {
			if !seen[m[2]] {
				seen[m[2]] = true
				missing = append(missing, m[2])
			}
			continue
		}
		if strings.Contains(line, "Exception:") {
			unhandled = append(unhandled, strings.TrimSpace(line))
		}
	}
	if len(unhandled) > 0 {
		return missing, fmt.Errorf("run log contains exceptions that cannot be attributed to missing rules:\n%s",
			strings.Join(unhandled, "\n"))
	}
	return missing, nil
}
