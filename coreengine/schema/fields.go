package schema

import (
	"fmt"
	"strings"

	"github.com/jeeves-cluster-organization/cowrite/coreengine/typeutil"
)

// fields walks one JSON object and records the first structural violation.
// Every method is a no-op once an error is recorded.
type fields struct {
	obj  map[string]any
	path string
	err  error
}

func check(obj map[string]any) *fields {
	return &fields{obj: obj}
}

func (f *fields) loc(key string) string {
	if f.path == "" {
		return key
	}
	return f.path + "." + key
}

func (f *fields) failf(key, format string, args ...any) {
	if f.err == nil {
		f.err = fmt.Errorf("%s: %s", f.loc(key), fmt.Sprintf(format, args...))
	}
}

// text requires non-blank strings.
func (f *fields) text(keys ...string) *fields {
	for _, k := range keys {
		if f.err == nil && !typeutil.NonBlank(f.obj[k]) {
			f.failf(k, "must be a non-empty string")
		}
	}
	return f
}

// str requires strings, empty allowed.
func (f *fields) str(keys ...string) *fields {
	for _, k := range keys {
		if _, ok := typeutil.SafeString(f.obj[k]); f.err == nil && !ok {
			f.failf(k, "must be a string")
		}
	}
	return f
}

// optStr accepts absent, null or string.
func (f *fields) optStr(keys ...string) *fields {
	for _, k := range keys {
		if v := f.obj[k]; v != nil {
			f.str(k)
		}
	}
	return f
}

func (f *fields) number(keys ...string) *fields {
	for _, k := range keys {
		if _, ok := typeutil.SafeFloat64(f.obj[k]); f.err == nil && !ok {
			f.failf(k, "must be a number")
		}
	}
	return f
}

func (f *fields) optNumber(keys ...string) *fields {
	for _, k := range keys {
		if f.obj[k] != nil {
			f.number(k)
		}
	}
	return f
}

// unit requires a number in [0, 1].
func (f *fields) unit(keys ...string) *fields {
	for _, k := range keys {
		f.number(k)
		if f.err != nil {
			return f
		}
		if v, _ := typeutil.SafeFloat64(f.obj[k]); v < 0 || v > 1 {
			f.failf(k, "must be between 0 and 1, got %v", v)
		}
	}
	return f
}

// integer requires a whole number.
func (f *fields) integer(keys ...string) *fields {
	for _, k := range keys {
		if f.err == nil && !typeutil.IsInteger(f.obj[k]) {
			f.failf(k, "must be an integer")
		}
	}
	return f
}

func (f *fields) boolean(keys ...string) *fields {
	for _, k := range keys {
		if _, ok := typeutil.SafeBool(f.obj[k]); f.err == nil && !ok {
			f.failf(k, "must be a boolean")
		}
	}
	return f
}

func (f *fields) optBoolean(keys ...string) *fields {
	for _, k := range keys {
		if f.obj[k] != nil {
			f.boolean(k)
		}
	}
	return f
}

func (f *fields) array(keys ...string) *fields {
	for _, k := range keys {
		if _, ok := typeutil.SafeSlice(f.obj[k]); f.err == nil && !ok {
			f.failf(k, "must be an array")
		}
	}
	return f
}

// stringArray requires an array whose items are all strings.
func (f *fields) stringArray(keys ...string) *fields {
	for _, k := range keys {
		if _, ok := typeutil.SafeStringSlice(f.obj[k]); f.err == nil && !ok {
			f.failf(k, "must be an array of strings")
		}
	}
	return f
}

func (f *fields) optStringArray(keys ...string) *fields {
	for _, k := range keys {
		if f.obj[k] != nil {
			f.stringArray(k)
		}
	}
	return f
}

// nonEmpty requires an array of at least min non-blank strings.
func (f *fields) nonEmpty(key string, min int) *fields {
	if f.err != nil {
		return f
	}
	items, ok := typeutil.SafeStringSlice(f.obj[key])
	if !ok {
		f.failf(key, "must be an array of strings")
		return f
	}
	n := 0
	for _, s := range items {
		if strings.TrimSpace(s) != "" {
			n++
		}
	}
	if n < min || n != len(items) {
		f.failf(key, "must hold at least %d non-empty entries", min)
	}
	return f
}

func (f *fields) oneOf(key string, allowed []string) *fields {
	if f.err != nil {
		return f
	}
	s, ok := typeutil.SafeString(f.obj[key])
	if !ok {
		f.failf(key, "must be one of %s", strings.Join(allowed, "|"))
		return f
	}
	for _, a := range allowed {
		if s == a {
			return f
		}
	}
	f.failf(key, "%q is not one of %s", s, strings.Join(allowed, "|"))
	return f
}

func (f *fields) optOneOf(key string, allowed []string) *fields {
	if f.obj[key] != nil {
		f.oneOf(key, allowed)
	}
	return f
}

// object checks key is an object and runs fn over it.
func (f *fields) object(key string, fn func(*fields)) *fields {
	if f.err != nil {
		return f
	}
	m, ok := typeutil.SafeMap(f.obj[key])
	if !ok {
		f.failf(key, "must be an object")
		return f
	}
	if fn != nil {
		child := &fields{obj: m, path: f.loc(key)}
		fn(child)
		f.err = child.err
	}
	return f
}

func (f *fields) optObject(key string, fn func(*fields)) *fields {
	if f.obj[key] != nil {
		f.object(key, fn)
	}
	return f
}

// each checks key is an array of objects and runs fn over every item.
func (f *fields) each(key string, fn func(*fields)) *fields {
	if f.err != nil {
		return f
	}
	items, ok := typeutil.SafeSlice(f.obj[key])
	if !ok {
		f.failf(key, "must be an array")
		return f
	}
	for i, item := range items {
		m, ok := typeutil.SafeMap(item)
		if !ok {
			f.failf(fmt.Sprintf("%s[%d]", key, i), "must be an object")
			return f
		}
		child := &fields{obj: m, path: f.loc(fmt.Sprintf("%s[%d]", key, i))}
		fn(child)
		if child.err != nil {
			f.err = child.err
			return f
		}
	}
	return f
}

// minItems requires an array of at least n items.
func (f *fields) minItems(key string, n int) *fields {
	if f.err != nil {
		return f
	}
	items, ok := typeutil.SafeSlice(f.obj[key])
	if !ok {
		f.failf(key, "must be an array")
	} else if len(items) < n {
		f.failf(key, "must hold at least %d items", n)
	}
	return f
}

func (f *fields) done() error {
	return f.err
}
