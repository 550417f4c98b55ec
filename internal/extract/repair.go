package extract

import (
	"strings"
	"unicode"
)

// RepairQuotes escapes stray double quotes inside JSON string literals.
//
// Models sometimes emit values like "has "inner" quotes". A quote seen inside
// a string closes it only when the next non-space character is one of
// : , } ] or the end of input; any other quote is escaped in place.
// Already escaped characters are copied through untouched, so well-formed
// JSON is returned unchanged.
func RepairQuotes(s string) string {
	var out strings.Builder
	out.Grow(len(s) + 8)

	runes := []rune(s)
	inString := false
	escaped := false

	for i := 0; i < len(runes); i++ {
		ch := runes[i]

		switch {
		case escaped:
			escaped = false
			out.WriteRune(ch)

		case ch == '\\':
			escaped = true
			out.WriteRune(ch)

		case ch == '"' && !inString:
			inString = true
			out.WriteRune(ch)

		case ch == '"':
			if closesString(runes, i+1) {
				inString = false
				out.WriteRune(ch)
			} else {
				out.WriteString(`\"`)
			}

		default:
			out.WriteRune(ch)
		}
	}

	return out.String()
}

// closesString looks past whitespace starting at j for a structural terminator
func closesString(runes []rune, j int) bool {
	for j < len(runes) && unicode.IsSpace(runes[j]) {
		j++
	}
	if j >= len(runes) {
		return true
	}
	switch runes[j] {
	case ':', ',', '}', ']':
		return true
	}
	return false
}

// StripFence returns the payload of a markdown code fence such as
// ```json ... ```. Text without a fence is returned as is.
func StripFence(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return s
	}

	firstNewline := strings.Index(trimmed, "\n")
	if firstNewline == -1 {
		return s
	}
	lastFence := strings.LastIndex(trimmed, "```")
	if lastFence <= firstNewline {
		return s
	}
	return strings.TrimSpace(trimmed[firstNewline+1 : lastFence])
}
