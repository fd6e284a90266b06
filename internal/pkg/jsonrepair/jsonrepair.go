// Package jsonrepair recovers structured data from model output that is
// almost, but not quite, JSON.
package jsonrepair

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

const snippetLimit = 500

// ParseError is returned once every strategy has failed. Snippet holds the
// first 500 characters of the original input.
type ParseError struct {
	Snippet string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse JSON after all repair strategies: %v; input: %s", e.Err, e.Snippet)
}

func (e *ParseError) Unwrap() error { return e.Err }

var (
	fencedBlockRe = regexp.MustCompile("(?s)```[a-zA-Z]*[ \t]*\\r?\\n?(.*?)```")
	innermostRe   = regexp.MustCompile(`\{[^{}]*\}`)
	keyValueRe    = regexp.MustCompile(`"((?:[^"\\]|\\.)+)"\s*:\s*("(?:[^"\\]|\\.)*"|-?\d+(?:\.\d+)?(?:[eE][+-]?\d+)?|true|false|null)`)
)

// ParseJSONSafely tries, in order: a direct parse, extraction from a fenced
// block or the first balanced span, the repair pipeline, the innermost
// balanced object, and reconstruction from "key": value pairs.
func ParseJSONSafely(text string) (any, error) {
	v, firstErr := decode(text)
	if firstErr == nil {
		return v, nil
	}

	extracted := Extract(text)
	if extracted != "" {
		if v, err := decode(extracted); err == nil {
			return v, nil
		}
	}

	candidate := extracted
	if candidate == "" {
		candidate = text
	}
	if v, err := decode(Repair(candidate)); err == nil {
		return v, nil
	}
	if extracted != "" {
		// The extracted span may have dropped a truncated tail.
		if v, err := decode(Repair(text)); err == nil {
			return v, nil
		}
	}

	for _, m := range innermostRe.FindAllString(text, -1) {
		if v, err := decode(m); err == nil {
			return v, nil
		}
	}

	if rebuilt := rebuildFromPairs(text); rebuilt != "" {
		if v, err := decode(Repair(rebuilt)); err == nil {
			return v, nil
		}
	}

	return nil, &ParseError{Snippet: truncateRunes(text, snippetLimit), Err: firstErr}
}

// ParseInto runs ParseJSONSafely and decodes the recovered value into dst.
func ParseInto(text string, dst any) error {
	v, err := ParseJSONSafely(text)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("re-encode recovered JSON: %w", err)
	}
	return json.Unmarshal(raw, dst)
}

// requiredTechPackKeys are the top-level keys a tech pack analysis carries;
// any one of them is enough.
var requiredTechPackKeys = []string{
	"productName", "product_name", "materials", "dimensions",
	"construction", "components", "views", "analysis",
}

// ValidateTechPackStructure is a shallow sanity check, not a schema validator.
func ValidateTechPackStructure(v any) bool {
	obj, ok := v.(map[string]any)
	if !ok {
		return false
	}
	for _, k := range requiredTechPackKeys {
		if _, ok := obj[k]; ok {
			return true
		}
	}
	return false
}

// Extract returns the content of the first fenced code block, or else the
// first balanced {...} / [...] span. Empty when neither exists or when the
// text is a bare "key": value fragment, whose first span is only a value.
func Extract(text string) string {
	if m := fencedBlockRe.FindStringSubmatch(text); m != nil {
		if inner := strings.TrimSpace(m[1]); inner != "" {
			return inner
		}
	}
	if bareFragmentRe.MatchString(strings.TrimSpace(text)) {
		return ""
	}
	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return ""
	}
	if end := balancedEnd(text, start); end > 0 {
		return text[start:end]
	}
	return ""
}

func decode(s string) (any, error) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, err
	}
	return v, nil
}

// balancedEnd returns the index just past the bracket that closes the one at
// start, or -1.
func balancedEnd(s string, start int) int {
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
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
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return -1
}

func rebuildFromPairs(text string) string {
	matches := keyValueRe.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteByte('{')
	for i, m := range matches {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('"')
		b.WriteString(m[1])
		b.WriteString(`":`)
		b.WriteString(m[2])
	}
	b.WriteByte('}')
	return b.String()
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
