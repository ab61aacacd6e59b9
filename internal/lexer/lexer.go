// Package lexer normalizes raw snakefile text before block parsing: comments
// and standalone docstring literals are pruned while quote state is carried
// across physical line boundaries.
package lexer

import "strings"

// quoteState tracks the currently open string delimiter, if any.
type quoteState int

const (
	stateNone quoteState = iota
	stateSingleTick       // '
	stateSingleQuote      // "
	stateTripleTick       // '''
	stateTripleQuote      // """
)

// Normalize prunes comment text and docstring spans from the given physical
// lines. The returned slice has the same length as the input, so indices
// remain valid line numbers for diagnostics: a physical line consumed as the
// continuation of a multi-line literal is emitted as an empty string, and its
// surviving content is concatenated onto the line that opened the literal.
//
// A triple-quoted literal is a docstring, and is pruned together with its
// delimiters, only when nothing but whitespace precedes it in its logical
// line; a literal assigned to an expression is real content and survives.
// A quote character inside an already-open string of a different kind is
// literal. A line ending mid-literal is not an error; scanning continues on
// the next physical line. Trailing whitespace is stripped from every emitted
// line.
func Normalize(lines []string) []string {
	out := make([]string, len(lines))
	sc := scanner{}

	logical := 0
	for i, line := range lines {
		if sc.state == stateNone {
			logical = i
		}
		out[logical] += sc.consume(line)
	}

	for i := range out {
		out[i] = strings.TrimRight(out[i], " \t")
	}
	return out
}

// scanner holds quote state across physical lines.
type scanner struct {
	state quoteState
	// keepLiteral records whether the currently open triple-quoted literal
	// is assigned content (kept) or a standalone docstring (pruned).
	keepLiteral bool
}

// consume scans one physical line and returns the content that survives
// pruning.
func (sc *scanner) consume(line string) string {
	var kept strings.Builder

	for i := 0; i < len(line); i++ {
		c := line[i]
		switch sc.state {
		case stateNone:
			if c == '#' {
				// escaped comment markers stay literal
				if i > 0 && line[i-1] == '\\' {
					kept.WriteByte(c)
					continue
				}
				return kept.String()
			}
			if strings.HasPrefix(line[i:], `"""`) || strings.HasPrefix(line[i:], "'''") {
				if line[i] == '"' {
					sc.state = stateTripleQuote
				} else {
					sc.state = stateTripleTick
				}
				sc.keepLiteral = strings.TrimSpace(kept.String()) != ""
				if sc.keepLiteral {
					kept.WriteString(line[i : i+3])
				}
				i += 2
				continue
			}
			if c == '"' {
				sc.state = stateSingleQuote
			} else if c == '\'' {
				sc.state = stateSingleTick
			}
			kept.WriteByte(c)

		case stateSingleQuote, stateSingleTick:
			kept.WriteByte(c)
			if c == '\\' && i+1 < len(line) {
				// escaped character inside a string, including \" and \'
				i++
				kept.WriteByte(line[i])
				continue
			}
			if (sc.state == stateSingleQuote && c == '"') ||
				(sc.state == stateSingleTick && c == '\'') {
				sc.state = stateNone
			}

		case stateTripleQuote, stateTripleTick:
			delim := `"""`
			if sc.state == stateTripleTick {
				delim = "'''"
			}
			if strings.HasPrefix(line[i:], delim) {
				if sc.keepLiteral {
					kept.WriteString(delim)
				}
				sc.state = stateNone
				i += 2
				continue
			}
			if sc.keepLiteral {
				kept.WriteByte(c)
			}
		}
	}
	return kept.String()
}
