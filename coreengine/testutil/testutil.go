// Package testutil provides the scripted model client and payload fixtures
// shared by the agent, runtime and pipeline tests.
package testutil

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jeeves-cluster-organization/cowrite/coreengine/llm"
)

// =============================================================================
// MOCK LLM CLIENT
// =============================================================================

// Reply is one scripted model answer.
type Reply struct {
	Text string
	Err  error
}

// LLMCall records a single Invoke for assertion.
type LLMCall struct {
	Prompt string
	Params llm.SamplingParams
}

// MockLLMClient implements llm.Client.
//
// Resolution order per call: InvokeFunc, Delay, Error, the next Script
// entry, the longest Responses key contained in the prompt, DefaultResponse.
type MockLLMClient struct {
	// Script is consumed front to back, one entry per call.
	Script []Reply

	// Responses maps prompt substrings to responses.
	Responses map[string]string

	DefaultResponse string

	// Delay simulates model latency and honors cancellation.
	Delay time.Duration

	// Error is returned from every call when set.
	Error error

	// InvokeFunc replaces all other behavior when set.
	InvokeFunc func(ctx context.Context, prompt string, params llm.SamplingParams) (string, error)

	Calls []LLMCall

	mu sync.Mutex
}

// NewMockLLMClient creates an empty MockLLMClient.
func NewMockLLMClient() *MockLLMClient {
	return &MockLLMClient{Responses: make(map[string]string)}
}

// Invoke implements llm.Client.
func (m *MockLLMClient) Invoke(ctx context.Context, prompt string, params llm.SamplingParams) (string, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, LLMCall{Prompt: prompt, Params: params})
	fn := m.InvokeFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, prompt, params)
	}

	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Error != nil {
		return "", m.Error
	}
	if len(m.Script) > 0 {
		next := m.Script[0]
		m.Script = m.Script[1:]
		return next.Text, next.Err
	}
	if text, ok := m.match(prompt); ok {
		return text, nil
	}
	return m.DefaultResponse, nil
}

func (m *MockLLMClient) match(prompt string) (string, bool) {
	keys := make([]string, 0, len(m.Responses))
	for k := range m.Responses {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	for _, k := range keys {
		if strings.Contains(prompt, k) {
			return m.Responses[k], true
		}
	}
	return "", false
}

// WithScript appends successful replies to the script.
func (m *MockLLMClient) WithScript(texts ...string) *MockLLMClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range texts {
		m.Script = append(m.Script, Reply{Text: t})
	}
	return m
}

// WithReply appends one reply, which may carry an error.
func (m *MockLLMClient) WithReply(r Reply) *MockLLMClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Script = append(m.Script, r)
	return m
}

// WithResponse adds a substring-matched response.
func (m *MockLLMClient) WithResponse(substr, response string) *MockLLMClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Responses[substr] = response
	return m
}

// WithError configures the mock to fail every call.
func (m *MockLLMClient) WithError(err error) *MockLLMClient {
	m.Error = err
	return m
}

// WithDelay adds latency simulation.
func (m *MockLLMClient) WithDelay(d time.Duration) *MockLLMClient {
	m.Delay = d
	return m
}

// CallCount returns the number of calls (thread-safe).
func (m *MockLLMClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// LastCall returns the most recent call.
func (m *MockLLMClient) LastCall() (LLMCall, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Calls) == 0 {
		return LLMCall{}, false
	}
	return m.Calls[len(m.Calls)-1], true
}

// Reset clears call history and the remaining script.
func (m *MockLLMClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
	m.Script = nil
}

var _ llm.Client = (*MockLLMClient)(nil)
