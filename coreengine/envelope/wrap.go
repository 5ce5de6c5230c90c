package envelope

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf16"
)

// Wrap encodes payload in the envelope wire shape.
//
// Both layers are emitted as pure ASCII: every non-ASCII rune and every
// backtick is written as a \u escape, so Normalize has nothing to rewrite
// and Parse(Wrap(p)) returns p unchanged.
func Wrap(agent string, payload any, now time.Time) (string, error) {
	inner, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	env := Envelope{
		Meta: map[string]any{
			"agent":     agent,
			"timestamp": now.UTC().Format(time.RFC3339),
		},
		Payload: asciiEscape(string(inner)),
	}
	outer, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("encode envelope: %w", err)
	}
	return asciiEscape(string(outer)), nil
}

// asciiEscape rewrites marshaled JSON so it contains only ASCII. Non-ASCII
// runes and backticks only occur inside string literals in encoder output,
// where a \u escape is equivalent.
func asciiEscape(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '`':
			b.WriteString(`\u0060`)
		case r < 0x80:
			b.WriteRune(r)
		case r > 0xFFFF:
			hi, lo := utf16.EncodeRune(r)
			fmt.Fprintf(&b, `\u%04x\u%04x`, hi, lo)
		default:
			fmt.Fprintf(&b, `\u%04x`, r)
		}
	}
	return b.String()
}
