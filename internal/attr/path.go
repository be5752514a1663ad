// Package attr implements the data model shared by every layer of the policy
// pipeline: dotted attribute paths, the tagged property value, the
// three-valued attribute state, and ordered header lists.
package attr

import "strings"

// Path is an ordered sequence of tokens parsed from a dotted selector string.
// "\." escapes a literal dot inside a token; a trailing "\" yields no token.
type Path struct {
	tokens []string
}

// ParsePath parses a dotted selector string into a Path.
func ParsePath(s string) Path {
	var tokens []string
	var cur strings.Builder
	escaped := false
	for _, r := range s {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
		case r == '.':
			tokens = append(tokens, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	tokens = append(tokens, cur.String())
	return Path{tokens: tokens}
}

// NewPath builds a Path directly from a token vector.
func NewPath(tokens ...string) Path {
	out := make([]string, len(tokens))
	copy(out, tokens)
	return Path{tokens: out}
}

// Tokens returns the underlying token vector. Callers must not mutate it.
func (p Path) Tokens() []string { return p.tokens }

// String renders the Path back to its canonical dotted form, escaping literal
// dots and backslashes within each token.
func (p Path) String() string {
	var b strings.Builder
	for i, tok := range p.tokens {
		if i > 0 {
			b.WriteByte('.')
		}
		for _, r := range tok {
			if r == '.' || r == '\\' {
				b.WriteByte('\\')
			}
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Equal reports whether two paths have identical token vectors.
func (p Path) Equal(other Path) bool {
	if len(p.tokens) != len(other.tokens) {
		return false
	}
	for i := range p.tokens {
		if p.tokens[i] != other.tokens[i] {
			return false
		}
	}
	return true
}

// Key returns a string suitable for use as a map key (joining tokens with a
// separator that cannot appear in an unescaped token boundary).
func (p Path) Key() string {
	return strings.Join(p.tokens, "\x00")
}
