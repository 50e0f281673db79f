package main

import (
	"fmt"
	"strconv"
	"strings"
)

// parseValues turns command-line words into engine write values. Decimal,
// hex (0x..) and octal (0o..) integers become single bytes, double-quoted
// words are unquoted with Go escapes, anything else is sent verbatim.
func parseValues(words []string) ([]any, error) {
	out := make([]any, 0, len(words))
	for _, w := range words {
		if n, err := strconv.ParseInt(w, 0, 64); err == nil {
			out = append(out, n)
			continue
		}
		if strings.HasPrefix(w, `"`) {
			s, err := strconv.Unquote(w)
			if err != nil {
				return nil, fmt.Errorf("bad quoted value %s: %w", w, err)
			}
			out = append(out, s)
			continue
		}
		out = append(out, w)
	}
	return out, nil
}

// splitWords splits a console line on blanks, keeping double-quoted strings
// (with escapes) together.
func splitWords(line string) ([]string, error) {
	var words []string
	var cur strings.Builder
	inQuote, escaped, has := false, false, false
	for _, r := range line {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case inQuote && r == '\\':
			cur.WriteRune(r)
			escaped = true
		case r == '"':
			cur.WriteRune(r)
			inQuote = !inQuote
			has = true
		case !inQuote && (r == ' ' || r == '\t'):
			if has {
				words = append(words, cur.String())
				cur.Reset()
				has = false
			}
		default:
			cur.WriteRune(r)
			has = true
		}
	}
	if inQuote {
		return nil, fmt.Errorf("unterminated quote")
	}
	if has {
		words = append(words, cur.String())
	}
	return words, nil
}
