package jsonrepair

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJSONSafelyValidInputMatchesStandardDecoder(t *testing.T) {
	inputs := []string{
		`{"a": 1, "b": [true, null, "x"]}`,
		`[1, 2.5, {"nested": {"k": "v"}}]`,
		`"just a string"`,
		`42`,
	}
	for _, in := range inputs {
		var want any
		require.NoError(t, json.Unmarshal([]byte(in), &want))

		got, err := ParseJSONSafely(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestParseJSONSafelyRepairs(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  any
	}{
		{
			name:  "missing comma between lines",
			input: "{\"a\": \"b\"\n\"c\": \"d\"}",
			want:  map[string]any{"a": "b", "c": "d"},
		},
		{
			name:  "fenced block",
			input: "Here you go:\n```json\n{\"a\":1}\n```\nThanks",
			want:  map[string]any{"a": float64(1)},
		},
		{
			name:  "trailing comma in object",
			input: `{"a": 1,}`,
			want:  map[string]any{"a": float64(1)},
		},
		{
			name:  "trailing comma in array",
			input: `{"a": [1, 2, ]}`,
			want:  map[string]any{"a": []any{float64(1), float64(2)}},
		},
		{
			name:  "truncated string",
			input: `{"a": "unterminated`,
			want:  map[string]any{"a": "unterminated"},
		},
		{
			name:  "truncated nesting",
			input: `{"views": [{"name": "front"`,
			want:  map[string]any{"views": []any{map[string]any{"name": "front"}}},
		},
		{
			name:  "surrounding prose",
			input: `Sure! {"productName": "Tee"} Let me know if you need more.`,
			want:  map[string]any{"productName": "Tee"},
		},
		{
			name:  "byte order mark",
			input: "\uFEFF{\"a\":1}",
			want:  map[string]any{"a": float64(1)},
		},
		{
			name:  "literal newline in value",
			input: "{\"a\": \"line1\nline2\"}",
			want:  map[string]any{"a": "line1\nline2"},
		},
		{
			name:  "unescaped inner quotes",
			input: `{"note": "He said "hi" loudly"}`,
			want:  map[string]any{"note": `He said "hi" loudly`},
		},
		{
			name:  "bare fragment",
			input: `"productName": "Tee", "season": "SS25"`,
			want:  map[string]any{"productName": "Tee", "season": "SS25"},
		},
		{
			name:  "quoted line start inside multi-line string",
			input: "{\"desc\": \"line1\n\"quoted\" start\"}",
			want:  map[string]any{"desc": "line1\n\"quoted\" start"},
		},
		{
			name:  "truncated bare fragment",
			input: `"key": 1, "k2": [1,2`,
			want:  map[string]any{"key": float64(1), "k2": []any{float64(1), float64(2)}},
		},
		{
			name:  "bare fragment with nested array",
			input: `"a": [1], "b": 2`,
			want:  map[string]any{"a": []any{float64(1)}, "b": float64(2)},
		},
		{
			name:  "rebuilt from key value pairs",
			input: `garbage "name": "Tee" more garbage "size": 4 }}}`,
			want:  map[string]any{"name": "Tee", "size": float64(4)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseJSONSafely(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseJSONSafelyFailure(t *testing.T) {
	_, err := ParseJSONSafely("not json at all")
	require.Error(t, err)

	var perr *ParseError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "not json at all", perr.Snippet)
	assert.Contains(t, err.Error(), "not json at all")
}

func TestParseErrorSnippetIsBounded(t *testing.T) {
	input := "no structure here " + strings.Repeat("é", 2000)

	_, err := ParseJSONSafely(input)
	var perr *ParseError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, 500, utf8.RuneCountInString(perr.Snippet))
	assert.True(t, strings.HasPrefix(input, perr.Snippet))
}

func TestParseInto(t *testing.T) {
	var out struct {
		ProductName string   `json:"productName"`
		Materials   []string `json:"materials"`
	}
	err := ParseInto("```json\n{\"productName\": \"Jacket\", \"materials\": [\"nylon\",]}\n```", &out)
	require.NoError(t, err)
	assert.Equal(t, "Jacket", out.ProductName)
	assert.Equal(t, []string{"nylon"}, out.Materials)
}

func TestValidateTechPackStructure(t *testing.T) {
	assert.True(t, ValidateTechPackStructure(map[string]any{"materials": []any{}}))
	assert.True(t, ValidateTechPackStructure(map[string]any{"product_name": "x", "other": 1}))
	assert.False(t, ValidateTechPackStructure(map[string]any{"foo": "bar"}))
	assert.False(t, ValidateTechPackStructure([]any{"materials"}))
	assert.False(t, ValidateTechPackStructure(nil))
}

func TestInsertMissingCommasSkipsStrings(t *testing.T) {
	inString := "{\"a\": \"line1\n\"q\" z\"}"
	assert.Equal(t, inString, insertMissingCommas(inString))

	assert.Equal(t, "{\"a\": 1,\n\"b\": true,\n  [null]}", insertMissingCommas("{\"a\": 1\n\"b\": true\n  [null]}"))
}

func TestRepairIsIdentityOnCleanObject(t *testing.T) {
	in := `{"a": {"b": [1, 2]}, "c": "d"}`
	assert.Equal(t, in, Repair(in))
}
