// Package typeutil provides comma-ok accessors over values produced by
// encoding/json decoding into any: map[string]any, []any, string, float64
// and bool.
package typeutil

import "strings"

// SafeMap asserts value to map[string]any.
func SafeMap(value any) (map[string]any, bool) {
	if value == nil {
		return nil, false
	}
	m, ok := value.(map[string]any)
	return m, ok
}

// SafeString asserts value to string.
func SafeString(value any) (string, bool) {
	if value == nil {
		return "", false
	}
	s, ok := value.(string)
	return s, ok
}

// SafeStringDefault asserts value to string with a fallback.
func SafeStringDefault(value any, defaultVal string) string {
	if s, ok := SafeString(value); ok {
		return s
	}
	return defaultVal
}

// NonBlank reports whether value is a string with non-whitespace content.
// This mirrors the truthiness check model output gets held to.
func NonBlank(value any) bool {
	s, ok := SafeString(value)
	return ok && strings.TrimSpace(s) != ""
}

// SafeFloat64 asserts value to a number. Decoded JSON always yields float64;
// the integer cases cover defaults injected from Go code.
func SafeFloat64(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	default:
		return 0, false
	}
}

// SafeFloat64Default asserts value to a number with a fallback.
func SafeFloat64Default(value any, defaultVal float64) float64 {
	if f, ok := SafeFloat64(value); ok {
		return f
	}
	return defaultVal
}

// SafeInt truncates a numeric value to int.
func SafeInt(value any) (int, bool) {
	f, ok := SafeFloat64(value)
	return int(f), ok
}

// IsInteger reports whether value is a number with no fractional part.
func IsInteger(value any) bool {
	f, ok := SafeFloat64(value)
	return ok && f == float64(int64(f))
}

// SafeBool asserts value to bool.
func SafeBool(value any) (bool, bool) {
	if value == nil {
		return false, false
	}
	b, ok := value.(bool)
	return b, ok
}

// SafeSlice asserts value to []any.
func SafeSlice(value any) ([]any, bool) {
	if value == nil {
		return nil, false
	}
	s, ok := value.([]any)
	return s, ok
}

// SafeStringSlice asserts value to a slice whose elements are all strings.
// Both []string and []any are accepted.
func SafeStringSlice(value any) ([]string, bool) {
	switch v := value.(type) {
	case []string:
		return v, true
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}

// CloneMap returns a shallow copy of m. Callers that apply defaults work on
// the copy so a decoded payload is never mutated in place.
func CloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
