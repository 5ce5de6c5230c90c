// Package schema holds the typed payload for every agent and the contract
// that decides whether a decoded payload is accepted.
//
// A contract runs in a fixed order: a nil payload is treated as an empty
// object when the contract has defaults, defaults are applied to a copy of the
// payload, required keys are checked for presence, structural rules run over
// the untyped map, the map is decoded into the typed payload, and finally any
// typed post-checks run. The first violation wins.
package schema

import (
	"encoding/json"
	"fmt"

	"github.com/jeeves-cluster-organization/cowrite/coreengine/failures"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/typeutil"
)

// Validator is the untyped view of a contract used by the registry and the
// envelope CLI.
type Validator interface {
	SchemaName() string
	// Valid reports whether data satisfies the contract.
	Valid(data map[string]any) bool
	// Explain returns nil for valid data, otherwise a schema_validation error
	// naming the first violation.
	Explain(data map[string]any) error
}

// Contract validates a decoded payload and produces a T.
type Contract[T any] struct {
	Name     string
	Required []string
	// Defaults fill keys that are absent or null. Each call returns a fresh
	// value so payloads never share state.
	Defaults map[string]func() any
	Rules    func(data map[string]any) error
	Post     func(v *T) error
}

// SchemaName implements Validator.
func (c *Contract[T]) SchemaName() string { return c.Name }

// Valid implements Validator.
func (c *Contract[T]) Valid(data map[string]any) bool {
	_, err := c.Validate(data)
	return err == nil
}

// Explain implements Validator.
func (c *Contract[T]) Explain(data map[string]any) error {
	_, err := c.Validate(data)
	return err
}

// Validate returns the typed payload or a *failures.Error of kind
// schema_validation. data itself is never modified.
func (c *Contract[T]) Validate(data map[string]any) (T, error) {
	var zero T
	if data == nil {
		// An empty payload is only acceptable when defaults can complete it.
		if len(c.Defaults) == 0 {
			return zero, failures.SchemaValidation(c.Name, "payload is empty")
		}
		data = map[string]any{}
	}

	prepared := typeutil.CloneMap(data)
	for key, def := range c.Defaults {
		if prepared[key] == nil {
			prepared[key] = def()
		}
	}
	for _, key := range c.Required {
		if prepared[key] == nil {
			return zero, failures.SchemaValidation(c.Name, fmt.Sprintf("missing required field %s", key))
		}
	}
	if c.Rules != nil {
		if err := c.Rules(prepared); err != nil {
			return zero, failures.SchemaValidation(c.Name, err.Error())
		}
	}

	var out T
	if err := decodeInto(prepared, &out); err != nil {
		return zero, failures.SchemaValidation(c.Name, err.Error())
	}
	if c.Post != nil {
		if err := c.Post(&out); err != nil {
			return zero, failures.SchemaValidation(c.Name, err.Error())
		}
	}
	return out, nil
}

// Extend returns a copy of c with an extra typed post-check that runs after
// the existing one. Agents use it for checks that depend on their input.
func (c *Contract[T]) Extend(post func(v *T) error) *Contract[T] {
	ext := *c
	prev := c.Post
	ext.Post = func(v *T) error {
		if prev != nil {
			if err := prev(v); err != nil {
				return err
			}
		}
		return post(v)
	}
	return &ext
}

func decodeInto(data map[string]any, out any) error {
	b, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("re-encode payload: %w", err)
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

// ToMap converts a typed payload back to its decoded JSON form.
func ToMap(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}
