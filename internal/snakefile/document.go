package snakefile

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/cpalmer718/snakemake-unit-tests/internal/lexer"
	"github.com/cpalmer718/snakemake-unit-tests/internal/report"
)

// Document is a fully include-resolved workflow: an ordered sequence of
// blocks spliced together from the entry snakefile and everything it pulls
// in.
type Document struct {
	Blocks []*Block

	// LoadedFiles lists every snakefile resolved into the document, entry
	// file first, in resolution order.
	LoadedFiles []string

	logger *slog.Logger
}

// LoadWorkflow reads the entry snakefile at entryPath (relative to baseDir)
// and expands include directives to a fixed point. Each expansion splices the
// included file's blocks in place of the directive, and included blocks
// inherit the directive's total indentation as their global offset so nested
// emission stays valid. Include paths resolve against the entry snakefile's
// parent directory, the same base the scheduler itself uses.
func LoadWorkflow(entryPath, baseDir string, logger *slog.Logger) (*Document, error) {
	doc := &Document{logger: logger.With("component", "snakefile")}
	includeBase := filepath.Join(baseDir, filepath.Dir(entryPath))

	seed := NewBlock()
	seed.CodeChunk = []string{fmt.Sprintf("include: %q", filepath.Base(entryPath))}
	doc.Blocks = []*Block{seed}

	for {
		expanded := false
		for i, b := range doc.Blocks {
			if b.IsRule() || b.Resolution != Unresolved || len(b.CodeChunk) == 0 {
				continue
			}
			if !b.ContainsIncludeDirective() {
				b.Resolution = ResolvedIncluded
				continue
			}
			if !b.IsSimpleIncludeDirective() {
				// include on a computed expression; without evaluating
				// the host language the target is unknowable
				expr, _ := b.FilenameExpression()
				b.Resolution = ResolutionRequiresPythonInterpretation
				doc.logger.Warn("include directive with non-literal filename left unresolved",
					"expression", expr)
				continue
			}

			name, err := b.StandardFilename()
			if err != nil {
				return nil, err
			}
			full := filepath.Join(includeBase, name)
			if countOccurrences(doc.LoadedFiles, full) >= maxIncludeRevisits {
				return nil, fmt.Errorf("include cycle detected: %q included more than %d times", full, maxIncludeRevisits)
			}
			children, err := loadBlocks(full, b.IncludeDepth())
			if err != nil {
				return nil, fmt.Errorf("resolving include of %q: %w", name, err)
			}
			b.Resolution = ResolvedIncluded
			b.ResolvedIncludedFilename = full
			doc.LoadedFiles = append(doc.LoadedFiles, full)
			doc.logger.Debug("resolved include", "file", full, "blocks", len(children))

			spliced := make([]*Block, 0, len(doc.Blocks)+len(children)-1)
			spliced = append(spliced, doc.Blocks[:i]...)
			spliced = append(spliced, children...)
			spliced = append(spliced, doc.Blocks[i+1:]...)
			doc.Blocks = spliced
			expanded = true
			break
		}
		if !expanded {
			break
		}
	}

	doc.logger.Info("loaded workflow",
		"files", len(doc.LoadedFiles), "blocks", len(doc.Blocks), "rules", len(doc.RuleNames()))
	return doc, nil
}

// maxIncludeRevisits bounds how often a single file may be spliced in before
// resolution is declared cyclic.
const maxIncludeRevisits = 20

func countOccurrences(values []string, target string) int {
	n := 0
	for _, v := range values {
		if v == target {
			n++
		}
	}
	return n
}

func loadBlocks(path string, globalIndent int) ([]*Block, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening snakefile: %w", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading snakefile: %w", err)
	}
	return ParseBlocks(lexer.Normalize(lines), path, globalIndent)
}

// RuleNames returns every declared rule name in document order, duplicates
// included.
func (d *Document) RuleNames() []string {
	var names []string
	for _, b := range d.Blocks {
		if b.IsRule() {
			names = append(names, b.RuleName)
		}
	}
	return names
}

// RuleBlock returns the first block declaring the named rule.
func (d *Document) RuleBlock(name string) (*Block, bool) {
	for _, b := range d.Blocks {
		if b.IsRule() && b.RuleName == name {
			return b, true
		}
	}
	return nil, false
}

// DetectKnownIssues scans the resolved document for conditions that commonly
// break downstream test emission and renders a load summary. It reports
// include directives that survived resolution, and rules declared more than
// once with differing content, except those the caller excluded from
// emission. Problem rule names are returned for the caller to veto.
func (d *Document) DetectKnownIssues(excluded map[string]bool, rep *report.Report) []string {
	var leftovers []string
	for _, b := range d.Blocks {
		if b.IsRule() || len(b.CodeChunk) == 0 {
			continue
		}
		last := b.CodeChunk[len(b.CodeChunk)-1]
		if strings.Contains(last, "include:") {
			leftovers = append(leftovers, strings.TrimSpace(last))
		}
	}
	for _, line := range leftovers {
		rep.Warnf("possible unresolved include statements detected: %q", line)
	}

	byName := map[string][]*Block{}
	var order []string
	for _, b := range d.Blocks {
		if !b.IsRule() {
			continue
		}
		if _, seen := byName[b.RuleName]; !seen {
			order = append(order, b.RuleName)
		}
		byName[b.RuleName] = append(byName[b.RuleName], b)
	}

	duplicates := 0
	var conflicting []string
	for _, name := range order {
		group := byName[name]
		if len(group) < 2 {
			continue
		}
		duplicates++
		consistent := true
		for _, other := range group[1:] {
			if !group[0].Equal(other) {
				consistent = false
				break
			}
		}
		if !consistent && !excluded[name] {
			conflicting = append(conflicting, name)
			rep.Warnf("rule %q is declared multiple times with conflicting content; "+
				"exclude it or consolidate the declarations", name)
		}
	}

	rep.Headerf("snakefile load summary")
	rep.Printf("  total loaded files: %d", len(d.LoadedFiles))
	rep.Printf("  total rules: %d (unique names: %d)", len(d.RuleNames()), len(order))
	rep.Printf("  rule names declared more than once: %d", duplicates)
	rep.Printf("  unresolved include statements: %d", len(leftovers))
	return conflicting
}

// ResolveDerivedRules copies missing sub-blocks and docstrings into every
// derived rule from its base rule. Inheritance is single level: a base rule
// that is itself derived cannot be resolved and is a hard error, as is a
// derived rule whose base does not exist in the document.
func (d *Document) ResolveDerivedRules() error {
	for _, b := range d.Blocks {
		if !b.IsRule() || b.BaseRuleName == "" {
			continue
		}
		base, ok := d.RuleBlock(b.BaseRuleName)
		if !ok {
			return fmt.Errorf("derived rule %q references base rule %q which is not defined anywhere in the workflow",
				b.RuleName, b.BaseRuleName)
		}
		if base.BaseRuleName != "" {
			return fmt.Errorf("derived rule %q has base rule %q which is itself derived; only single-level inheritance is supported",
				b.RuleName, base.RuleName)
		}
		if b.Docstring == "" {
			b.Docstring = base.Docstring
		}
		for _, name := range base.NamedBlockNames() {
			body, _ := base.NamedBlock(name)
			b.OfferBaseRuleContents(base.RuleName, name, body)
		}
	}
	return nil
}

// WriteSelectedRules emits the document with only the selected rules intact.
// Code chunks always survive so surrounding host-language context keeps
// working. Unselected rules collapse to a placeholder pass statement at the
// rule's own indentation, keeping conditional structure syntactically valid.
// Every selected name must exist in the document.
func (d *Document) WriteSelectedRules(selected map[string]bool, w io.Writer) error {
	found := map[string]bool{}
	lw := &lineWriter{w: w}
	for _, b := range d.Blocks {
		if !b.IsRule() {
			if b.Resolution == ResolutionRequiresPythonInterpretation {
				// emitting an unresolvable include would pull in rules
				// the pruned workflow must not see
				continue
			}
			if err := b.WriteTo(w); err != nil {
				return err
			}
			continue
		}
		if selected[b.RuleName] {
			found[b.RuleName] = true
			if err := b.WriteTo(w); err != nil {
				return err
			}
			continue
		}
		lw.printf("%spass\n\n\n", indentation(b.GlobalIndentation+b.LocalIndentation))
		if lw.err != nil {
			return lw.err
		}
	}
	for name := range selected {
		if !found[name] {
			return fmt.Errorf("rule %q was requested for emission but is not defined anywhere in the workflow", name)
		}
	}
	return nil
}
