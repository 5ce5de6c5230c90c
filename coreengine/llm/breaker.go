package llm

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jeeves-cluster-organization/cowrite/coreengine/failures"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/observability"
)

// Breaker states.
const (
	StateClosed   = "closed"
	StateOpen     = "open"
	StateHalfOpen = "half-open"
)

// ErrCircuitOpen is wrapped in the ModelInvocation error returned while the
// breaker is open.
var ErrCircuitOpen = errors.New("circuit open")

// CircuitBreaker wraps a Provider and stops calling it after
// failureThreshold consecutive failures. After resetTimeout a single trial
// call is let through (half-open) while every other caller is still
// rejected; success closes the circuit, failure reopens it.
type CircuitBreaker struct {
	provider         Provider
	failureThreshold int
	resetTimeout     time.Duration
	now              func() time.Time

	mu          sync.Mutex
	state       string
	failures    int
	lastFailure time.Time
	trial       bool
}

// NewCircuitBreaker creates a breaker around provider.
func NewCircuitBreaker(provider Provider, failureThreshold int, resetTimeout time.Duration) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	return &CircuitBreaker{
		provider:         provider,
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		now:              time.Now,
		state:            StateClosed,
	}
}

// Name implements Provider.
func (b *CircuitBreaker) Name() string { return b.provider.Name() }

// State returns the current breaker state.
func (b *CircuitBreaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Invoke implements Client.
func (b *CircuitBreaker) Invoke(ctx context.Context, prompt string, params SamplingParams) (string, error) {
	if !b.allow() {
		return "", failures.ModelInvocation(b.Name(), ErrCircuitOpen)
	}
	text, err := b.provider.Invoke(ctx, prompt, params)
	b.record(err)
	return text, err
}

func (b *CircuitBreaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.lastFailure) < b.resetTimeout {
			return false
		}
		b.transition(StateHalfOpen)
	case StateHalfOpen:
		if b.trial {
			return false
		}
	}
	if b.state == StateHalfOpen {
		b.trial = true
	}
	return true
}

func (b *CircuitBreaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trial = false

	// Caller cancellation says nothing about provider health.
	if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return
	}

	if err == nil {
		b.failures = 0
		if b.state != StateClosed {
			b.transition(StateClosed)
		}
		return
	}

	b.failures++
	b.lastFailure = b.now()
	if b.state == StateHalfOpen || b.failures >= b.failureThreshold {
		b.transition(StateOpen)
	}
}

func (b *CircuitBreaker) transition(state string) {
	if b.state == state {
		return
	}
	b.state = state
	observability.RecordCircuitTransition(b.Name(), state)
}

var _ Provider = (*CircuitBreaker)(nil)
