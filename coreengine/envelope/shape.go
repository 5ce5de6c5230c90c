package envelope

import "sort"

// SameShape reports whether repaired keeps the structure of original: same
// value kinds, same key set on objects, and for arrays the same shape of the
// first element when both are non-empty. Leaf values are not compared.
func SameShape(original, repaired any) bool {
	switch o := original.(type) {
	case map[string]any:
		r, ok := repaired.(map[string]any)
		if !ok || len(o) != len(r) {
			return false
		}
		ok1, ok2 := sortedKeys(o), sortedKeys(r)
		for i := range ok1 {
			if ok1[i] != ok2[i] {
				return false
			}
		}
		return true
	case []any:
		r, ok := repaired.([]any)
		if !ok {
			return false
		}
		if len(o) > 0 && len(r) > 0 {
			return SameShape(o[0], r[0])
		}
		return true
	case nil:
		return true
	default:
		switch repaired.(type) {
		case map[string]any, []any:
			return false
		}
		return kindOf(original) == kindOf(repaired)
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func kindOf(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case float64, int, int64, float32:
		return "number"
	case bool:
		return "bool"
	default:
		return "other"
	}
}
