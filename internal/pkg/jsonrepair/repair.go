package jsonrepair

import (
	"regexp"
	"strings"
)

var (
	fenceLineRe    = regexp.MustCompile("(?m)^\\s*```[a-zA-Z]*\\s*$")
	bareFragmentRe = regexp.MustCompile(`^"(?:[^"\\]|\\.)*"\s*:`)
	invisibleChars = strings.NewReplacer("\uFEFF", "", "\u200B", "", "\u200C", "", "\u200D", "", "\u2060", "")
)

// repairStep is one textual transformation. Steps run in a fixed order and
// each one sees the output of the previous.
type repairStep func(string) string

var pipeline = []repairStep{
	stripFences,
	stripInvisible,
	closeTruncatedString,
	insertMissingCommas,
	removeTrailingCommas,
	escapeInnerQuotes,
	escapeControlChars,
	wrapBareFragment,
	balanceBrackets,
}

// Repair applies the full repair pipeline to s.
func Repair(s string) string {
	for _, step := range pipeline {
		s = step(s)
	}
	return strings.TrimSpace(s)
}

func stripFences(s string) string {
	s = fenceLineRe.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func stripInvisible(s string) string {
	return invisibleChars.Replace(s)
}

// closeTruncatedString appends a quote when the text ends inside a string.
func closeTruncatedString(s string) string {
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		if c == '"' {
			inString = true
		}
	}
	if !inString {
		return s
	}
	if escaped {
		s = s[:len(s)-1]
	}
	return s + `"`
}

// insertMissingCommas adds a comma when a value ends a line and the next
// line starts another string, object or array. Text inside strings is left
// alone.
func insertMissingCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 8)
	inString, escaped, valueEnded := false, false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
				valueEnded = true
			}
			b.WriteByte(c)
			continue
		}
		switch c {
		case '\n':
			if valueEnded {
				if next := nextNonSpace(s, i+1); next == '"' || next == '{' || next == '[' {
					b.WriteByte(',')
					valueEnded = false
				}
			}
		case ' ', '\t', '\r':
		case '"':
			inString = true
			valueEnded = false
		default:
			valueEnded = endsValue(s[:i+1])
		}
		b.WriteByte(c)
	}
	return b.String()
}

func endsValue(s string) bool {
	switch c := s[len(s)-1]; {
	case c == '}' || c == ']' || (c >= '0' && c <= '9'):
		return true
	case c == 'e':
		return strings.HasSuffix(s, "true") || strings.HasSuffix(s, "false")
	case c == 'l':
		return strings.HasSuffix(s, "null")
	}
	return false
}

// removeTrailingCommas drops a comma that directly precedes } or ] outside
// of strings.
func removeTrailingCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			b.WriteByte(c)
			continue
		}
		if c == '"' {
			inString = true
		}
		if c == ',' {
			if next := nextNonSpace(s, i+1); next == '}' || next == ']' {
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

// escapeInnerQuotes treats a quote inside a string as closing only when the
// next significant character could follow a JSON string.
func escapeInnerQuotes(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 8)
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !inString {
			if c == '"' {
				inString = true
			}
			b.WriteByte(c)
			continue
		}
		switch {
		case escaped:
			escaped = false
		case c == '\\':
			escaped = true
		case c == '"':
			switch nextNonSpace(s, i+1) {
			case ',', '}', ']', ':', 0:
				inString = false
			default:
				b.WriteString(`\"`)
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

// escapeControlChars escapes literal newlines, carriage returns and tabs
// that appear inside string values.
func escapeControlChars(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 8)
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !inString {
			if c == '"' {
				inString = true
			}
			b.WriteByte(c)
			continue
		}
		if escaped {
			escaped = false
			b.WriteByte(c)
			continue
		}
		switch c {
		case '\\':
			escaped = true
		case '"':
			inString = false
		case '\n':
			b.WriteString(`\n`)
			continue
		case '\r':
			b.WriteString(`\r`)
			continue
		case '\t':
			b.WriteString(`\t`)
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// wrapBareFragment opens an object around `"key": value, ...` text that has
// none. balanceBrackets then closes it after any brackets the fragment left
// open.
func wrapBareFragment(s string) string {
	t := strings.TrimSpace(s)
	if t == "" || t[0] == '{' || t[0] == '[' {
		return t
	}
	if bareFragmentRe.MatchString(t) {
		return "{" + t
	}
	return t
}

// balanceBrackets closes every bracket still open at the end of the text,
// innermost first, after dropping a dangling separator.
func balanceBrackets(s string) string {
	var stack []byte
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if n := len(stack); n > 0 && stack[n-1] == c {
				stack = stack[:n-1]
			}
		}
	}
	if len(stack) == 0 {
		return s
	}

	s = strings.TrimRight(s, " \t\r\n")
	s = strings.TrimSuffix(s, ",")
	if strings.HasSuffix(s, ":") {
		s += " null"
	}

	var b strings.Builder
	b.WriteString(s)
	for i := len(stack) - 1; i >= 0; i-- {
		b.WriteByte(stack[i])
	}
	return b.String()
}

func nextNonSpace(s string, from int) byte {
	for i := from; i < len(s); i++ {
		switch s[i] {
		case ' ', '\t', '\r', '\n':
			continue
		default:
			return s[i]
		}
	}
	return 0
}
