package snakefile

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	rulePattern       = regexp.MustCompile(`^(\s*)rule (\S+):\s*$`)
	checkpointPattern = regexp.MustCompile(`^(\s*)checkpoint (\S+):\s*$`)
	derivedPattern    = regexp.MustCompile(`^(\s*)use rule (\S+) as (\S+) with:\s*$`)
	subBlockPattern   = regexp.MustCompile(`^(\s*)([a-zA-Z_][a-zA-Z0-9_]*):(.*)$`)
)

// ParseBlocks splits normalized lines into an ordered block sequence. Each
// block is a rule declaration with its sub-blocks or a code chunk of one
// top-level statement plus its indented continuations. globalIndent is the
// indentation inherited from the include site, recorded on every block for
// later re-emission.
func ParseBlocks(lines []string, filename string, globalIndent int) ([]*Block, error) {
	var blocks []*Block
	cursor := 0
	for cursor < len(lines) {
		if strings.TrimSpace(lines[cursor]) == "" {
			cursor++
			continue
		}
		block, err := parseBlock(lines, &cursor, filename)
		if err != nil {
			return nil, err
		}
		block.GlobalIndentation = globalIndent
		blocks = append(blocks, block)
	}
	return blocks, nil
}

// parseBlock consumes one block starting at *cursor, which must point at a
// non-blank line, and advances the cursor past it.
func parseBlock(lines []string, cursor *int, filename string) (*Block, error) {
	line := lines[*cursor]
	block := NewBlock()

	if m := derivedPattern.FindStringSubmatch(line); m != nil {
		block.LocalIndentation = len(m[1])
		block.BaseRuleName = m[2]
		block.RuleName = m[3]
		*cursor++
		return block, parseRuleBody(lines, cursor, block, filename)
	}
	if m := checkpointPattern.FindStringSubmatch(line); m != nil {
		block.LocalIndentation = len(m[1])
		block.RuleName = m[2]
		block.Checkpoint = true
		*cursor++
		return block, parseRuleBody(lines, cursor, block, filename)
	}
	if m := rulePattern.FindStringSubmatch(line); m != nil {
		block.LocalIndentation = len(m[1])
		block.RuleName = m[2]
		*cursor++
		return block, parseRuleBody(lines, cursor, block, filename)
	}

	// arbitrary code: the statement plus any more deeply indented
	// continuations form a single chunk. Rule headers and include
	// directives open their own blocks even when indented under the
	// chunk, so conditional includes stay individually resolvable.
	chunkIndent := leadingWhitespace(line)
	block.LocalIndentation = chunkIndent
	block.CodeChunk = append(block.CodeChunk, line)
	*cursor++
	if looseIncludePattern.MatchString(line) {
		return block, nil
	}
	for *cursor < len(lines) {
		next := lines[*cursor]
		if strings.TrimSpace(next) == "" {
			*cursor++
			continue
		}
		if leadingWhitespace(next) <= chunkIndent || isRuleHeader(next) ||
			looseIncludePattern.MatchString(next) {
			break
		}
		block.CodeChunk = append(block.CodeChunk, next)
		*cursor++
	}
	return block, nil
}

func isRuleHeader(line string) bool {
	return rulePattern.MatchString(line) ||
		checkpointPattern.MatchString(line) ||
		derivedPattern.MatchString(line)
}

// parseRuleBody consumes the docstring and named sub-blocks of a rule whose
// header has already been consumed. The body ends at the first non-blank line
// at or below the rule header's indentation.
func parseRuleBody(lines []string, cursor *int, block *Block, filename string) error {
	docstringAllowed := true
	for *cursor < len(lines) {
		line := lines[*cursor]
		if strings.TrimSpace(line) == "" {
			*cursor++
			continue
		}
		indent := leadingWhitespace(line)
		if indent <= block.LocalIndentation {
			return nil
		}

		trimmed := strings.TrimSpace(line)
		if docstringAllowed && (strings.HasPrefix(trimmed, `"`) || strings.HasPrefix(trimmed, `'`)) {
			block.Docstring = trimmed
			*cursor++
			continue
		}

		m := subBlockPattern.FindStringSubmatch(line)
		if m == nil {
			return fmt.Errorf("%s: line %d: unrecognized content inside rule %q: %q",
				filename, *cursor+1, block.RuleName, line)
		}
		docstringAllowed = false
		headerIndent := len(m[1])
		name := m[2]
		var body []string
		if inline := strings.TrimSpace(m[3]); inline != "" {
			body = append(body, indentation(headerIndent+4)+inline)
		}
		*cursor++
		for *cursor < len(lines) {
			next := lines[*cursor]
			if strings.TrimSpace(next) == "" {
				*cursor++
				continue
			}
			if leadingWhitespace(next) <= headerIndent {
				break
			}
			body = append(body, next)
			*cursor++
		}
		block.SetNamedBlock(name, strings.Join(body, "\n"))
	}
	return nil
}

func leadingWhitespace(line string) int {
	return len(line) - len(strings.TrimLeft(line, " \t"))
}
