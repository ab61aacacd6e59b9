// Package snakefile parses snakemake workflow sources into an ordered
// sequence of typed blocks, resolves include directives, and re-emits pruned
// workflow files.
package snakefile

import (
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/emirpasic/gods/maps/linkedhashmap"
	"github.com/google/uuid"
)

// Status tracks whether an include directive has been expanded.
type Status int

const (
	Unresolved Status = iota
	ResolvedIncluded
	ResolvedNotIncluded
	ResolutionRequiresPythonInterpretation
)

var (
	simpleIncludePattern = regexp.MustCompile(`^\s*include:\s*"(.*)"\s*$`)
	looseIncludePattern  = regexp.MustCompile(`^\s*include:\s*(\S.*)$`)
)

// reserved sub-block names with fixed emission positions. Input and output
// lead; the trailing set closes the rule in this exact order.
var trailingSubBlocks = []string{"cwl", "run", "script", "shell", "wrapper"}

// Block is one unit of parsed workflow content: a rule (standard, derived, or
// checkpoint), or an opaque code chunk which may be an include directive.
// A block holds either named sub-blocks or code lines, never both.
type Block struct {
	RuleName     string
	BaseRuleName string
	Checkpoint   bool
	Docstring    string

	// CodeChunk holds the raw lines of a non-rule block: one top-level
	// statement plus its indented continuations.
	CodeChunk []string

	// LocalIndentation is the raw leading character count of the block
	// header in its own file. GlobalIndentation is inherited from the
	// include site so nested re-emission stays syntactically valid.
	LocalIndentation  int
	GlobalIndentation int

	Resolution Status
	// Tag correlates the block to simulated-interpreter output. Reserved
	// for host-language evaluation support.
	Tag string
	// ResolvedIncludedFilename is set once an include directive has been
	// expanded.
	ResolvedIncludedFilename string

	namedBlocks *linkedhashmap.Map // sub-block name -> body text
}

// NewBlock creates an empty block with a fresh interpreter tag.
func NewBlock() *Block {
	return &Block{
		namedBlocks: linkedhashmap.New(),
		Tag:         uuid.NewString(),
	}
}

// IsRule reports whether the block holds a rule declaration of any kind.
func (b *Block) IsRule() bool { return b.RuleName != "" }

// SetNamedBlock stores a sub-block body, preserving first-insertion order.
func (b *Block) SetNamedBlock(name, body string) {
	b.namedBlocks.Put(name, body)
}

// NamedBlock returns a sub-block body by name.
func (b *Block) NamedBlock(name string) (string, bool) {
	v, ok := b.namedBlocks.Get(name)
	if !ok {
		return "", false
	}
	return v.(string), true
}

// NamedBlockNames returns sub-block names in insertion order.
func (b *Block) NamedBlockNames() []string {
	keys := b.namedBlocks.Keys()
	names := make([]string, 0, len(keys))
	for _, k := range keys {
		names = append(names, k.(string))
	}
	return names
}

// NamedBlockCount returns the number of stored sub-blocks.
func (b *Block) NamedBlockCount() int { return b.namedBlocks.Size() }

// IsSimpleIncludeDirective reports whether the block is a single-line include
// directive on a literal quoted path. Multi-line chunks are never includes:
// once other statements share the chunk the source's intent cannot be
// statically disambiguated.
func (b *Block) IsSimpleIncludeDirective() bool {
	return len(b.CodeChunk) == 1 && simpleIncludePattern.MatchString(b.CodeChunk[0])
}

// ContainsIncludeDirective reports whether the block is a single-line include
// directive on any operand, literal or expression.
func (b *Block) ContainsIncludeDirective() bool {
	return len(b.CodeChunk) == 1 && looseIncludePattern.MatchString(b.CodeChunk[0])
}

// FilenameExpression extracts the raw operand of an include statement,
// quotes included if present. Calling this on a chunk that does not match the
// include grammar is a caller contract violation.
func (b *Block) FilenameExpression() (string, error) {
	if len(b.CodeChunk) == 1 {
		if m := looseIncludePattern.FindStringSubmatch(b.CodeChunk[0]); m != nil {
			return strings.TrimRight(m[1], " \t"), nil
		}
	}
	return "", fmt.Errorf("filename expression requested from code block that does not match include directive pattern")
}

// StandardFilename returns the literal path of a simple include directive.
func (b *Block) StandardFilename() (string, error) {
	if len(b.CodeChunk) == 1 {
		if m := simpleIncludePattern.FindStringSubmatch(b.CodeChunk[0]); m != nil {
			return m[1], nil
		}
	}
	return "", fmt.Errorf("standard filename requested from code block that does not match include directive pattern")
}

// IncludeDepth returns the indentation an include directive carries, local
// plus inherited global depth.
func (b *Block) IncludeDepth() int {
	return b.GlobalIndentation + b.LocalIndentation
}

// OfferBaseRuleContents copies a sub-block from a candidate base rule into
// this block, if this block actually derives from the named provider and does
// not define the sub-block itself.
func (b *Block) OfferBaseRuleContents(providerName, blockName, body string) {
	if b.BaseRuleName == "" || providerName != b.BaseRuleName {
		return
	}
	if _, ok := b.namedBlocks.Get(blockName); ok {
		return
	}
	b.namedBlocks.Put(blockName, body)
}

// Equal compares semantic content: names, checkpoint status, docstring,
// sub-block bodies, code lines, and total indentation. Resolution bookkeeping
// and the interpreter tag are ignored.
func (b *Block) Equal(o *Block) bool {
	if b.RuleName != o.RuleName || b.BaseRuleName != o.BaseRuleName {
		return false
	}
	if b.Checkpoint != o.Checkpoint || b.Docstring != o.Docstring {
		return false
	}
	if b.IncludeDepth() != o.IncludeDepth() {
		return false
	}
	if b.namedBlocks.Size() != o.namedBlocks.Size() {
		return false
	}
	for _, name := range b.NamedBlockNames() {
		mine, _ := b.NamedBlock(name)
		theirs, ok := o.NamedBlock(name)
		if !ok || mine != theirs {
			return false
		}
	}
	if len(b.CodeChunk) != len(o.CodeChunk) {
		return false
	}
	for i := range b.CodeChunk {
		if b.CodeChunk[i] != o.CodeChunk[i] {
			return false
		}
	}
	return true
}

// WriteTo re-emits the block. Code chunks print verbatim under their global
// indentation offset. Rules print their header and sub-blocks in canonical
// order: input and output first, then sub-blocks outside the reserved set in
// insertion order, then cwl/run/script/shell/wrapper, then two blank lines
// per snakefmt convention.
func (b *Block) WriteTo(w io.Writer) error {
	lw := &lineWriter{w: w}

	if !b.IsRule() {
		for _, line := range b.CodeChunk {
			lw.printf("%s%s\n", indentation(b.GlobalIndentation), line)
		}
		return lw.err
	}

	indent := indentation(b.GlobalIndentation + b.LocalIndentation)
	switch {
	case b.BaseRuleName != "":
		lw.printf("%suse rule %s as %s with:\n", indent, b.BaseRuleName, b.RuleName)
	case b.Checkpoint:
		lw.printf("%scheckpoint %s:\n", indent, b.RuleName)
	default:
		lw.printf("%srule %s:\n", indent, b.RuleName)
	}
	if b.Docstring != "" {
		lw.printf("%s%s\n", indentation(b.GlobalIndentation+b.LocalIndentation+4), b.Docstring)
	}

	emitted := map[string]bool{}
	emit := func(name string) {
		body, ok := b.NamedBlock(name)
		if !ok || emitted[name] {
			return
		}
		emitted[name] = true
		lw.printf("%s%s:\n", indentation(b.GlobalIndentation+b.LocalIndentation+4), name)
		for _, line := range strings.Split(body, "\n") {
			lw.printf("%s%s\n", indentation(b.GlobalIndentation), line)
		}
	}

	emit("input")
	emit("output")
	trailing := map[string]bool{}
	for _, name := range trailingSubBlocks {
		trailing[name] = true
	}
	for _, name := range b.NamedBlockNames() {
		if !trailing[name] {
			emit(name)
		}
	}
	for _, name := range trailingSubBlocks {
		emit(name)
	}
	lw.printf("\n\n")
	return lw.err
}

func indentation(count int) string {
	if count <= 0 {
		return ""
	}
	return strings.Repeat(" ", count)
}

// lineWriter batches write errors so emission code stays linear.
type lineWriter struct {
	w   io.Writer
	err error
}

func (lw *lineWriter) printf(format string, args ...any) {
	if lw.err != nil {
		return
	}
	_, lw.err = fmt.Fprintf(lw.w, format, args...)
}
