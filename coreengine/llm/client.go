// Package llm is the boundary to model providers: send prompt text, receive
// response text. Nothing here knows about envelopes or schemas.
package llm

import (
	"context"
)

// Sampling defaults used when neither the agent nor the config sets a value.
const (
	DefaultTemperature = 0.3
	DefaultMaxTokens   = 8192
)

// SamplingParams are the knobs passed with each prompt. A zero Model means
// the client's own default model.
type SamplingParams struct {
	Model       string
	Temperature *float64
	MaxTokens   int
}

// TemperatureOr returns the configured temperature or def.
func (p SamplingParams) TemperatureOr(def float64) float64 {
	if p.Temperature == nil {
		return def
	}
	return *p.Temperature
}

// MaxTokensOr returns the configured token limit or def.
func (p SamplingParams) MaxTokensOr(def int) int {
	if p.MaxTokens <= 0 {
		return def
	}
	return p.MaxTokens
}

// Temperature is a helper for building SamplingParams literals.
func Temperature(t float64) *float64 {
	return &t
}

// Client invokes a model. It fails on transport errors, non-success status
// and empty candidate lists.
type Client interface {
	Invoke(ctx context.Context, prompt string, params SamplingParams) (string, error)
}

// Provider is a Client with a stable name for metrics and error messages.
type Provider interface {
	Client
	Name() string
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, prompt string, params SamplingParams) (string, error)

// Invoke implements Client.
func (f ClientFunc) Invoke(ctx context.Context, prompt string, params SamplingParams) (string, error) {
	return f(ctx, prompt, params)
}
