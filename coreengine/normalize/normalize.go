// Package normalize cleans raw model text before JSON decoding.
package normalize

import (
	"regexp"
	"strings"

	"github.com/jeeves-cluster-organization/cowrite/coreengine/failures"
)

// punctuation maps full-width and typographic characters to their ASCII
// equivalents and drops invisible characters. None of the replacements
// produces a character that another entry would match.
var punctuation = strings.NewReplacer(
	"\u201c", `"`,
	"\u201d", `"`,
	"\u2018", "'",
	"\u2019", "'",
	"\uff1a", ":",
	"\uff0c", ",",
	"\uff08", "(",
	"\uff09", ")",
	"\u00a0", " ",
	"\u200b", "",
	"\ufeff", "",
)

var jsonFence = regexp.MustCompile("(?i)```json")

// Normalize rewrites s so strict JSON decoding has a chance: curly quotes and
// full-width punctuation become ASCII, zero-width characters and BOMs are
// dropped, markdown code fences are stripped and the result is trimmed.
//
// Normalize(Normalize(s)) == Normalize(s) for every s.
func Normalize(s string) string {
	s = punctuation.Replace(s)
	s = jsonFence.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "```", "")
	return strings.TrimSpace(s)
}

// ExtractFirstJSONBlock returns the span from the first '{' to the last '}'.
// The span is greedy: prose between two separate objects is kept and left
// for the decoder to reject.
func ExtractFirstJSONBlock(text string) (string, error) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", failures.NoJSONFound()
	}
	end := strings.LastIndexByte(text, '}')
	if end < start {
		return "", failures.NoJSONFound()
	}
	return text[start : end+1], nil
}
