package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/jeeves-cluster-organization/cowrite/coreengine/failures"
)

// FallbackClient tries providers in order and returns the first success.
type FallbackClient struct {
	providers []Provider
}

// NewFallbackClient creates a FallbackClient. At least one provider is
// required.
func NewFallbackClient(providers ...Provider) (*FallbackClient, error) {
	if len(providers) == 0 {
		return nil, failures.InvalidInput("no model providers configured")
	}
	return &FallbackClient{providers: providers}, nil
}

// Providers returns the provider names in call order.
func (c *FallbackClient) Providers() []string {
	names := make([]string, len(c.providers))
	for i, p := range c.providers {
		names[i] = p.Name()
	}
	return names
}

// Invoke implements Client. When every provider fails the returned
// ModelInvocation error lists each provider's failure.
func (c *FallbackClient) Invoke(ctx context.Context, prompt string, params SamplingParams) (string, error) {
	var errs []string
	for _, p := range c.providers {
		if err := ctx.Err(); err != nil {
			return "", failures.ModelInvocation("fallback", err)
		}
		text, err := p.Invoke(ctx, prompt, params)
		if err == nil {
			return text, nil
		}
		errs = append(errs, fmt.Sprintf("%s: %v", p.Name(), err))
	}
	return "", failures.ModelInvocation("fallback", fmt.Errorf("all providers failed: %s", strings.Join(errs, "; ")))
}
