package failures

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// KIND TESTS
// =============================================================================

func TestKind_Recoverable(t *testing.T) {
	tests := []struct {
		kind Kind
		want bool
	}{
		{KindNoJSONFound, true},
		{KindEnvelopeStructure, true},
		{KindPayloadParse, true},
		{KindSchemaValidation, true},
		{KindModelInvocation, false},
		{KindLockViolation, false},
		{KindStageViolation, false},
		{KindInvalidInput, false},
		{Kind(""), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.kind.Recoverable())
		})
	}
}

// =============================================================================
// ERROR TESTS
// =============================================================================

func TestError_Message(t *testing.T) {
	err := SchemaValidation("brief", "missing topic").WithAgent("brief")
	err.Attempts = 3

	assert.Equal(t, "brief: schema_validation: brief: missing topic (after 3 attempts)", err.Error())
}

func TestError_RawNotRendered(t *testing.T) {
	err := PayloadParse("bad payload", nil).WithRaw(`{"secret": "model text"}`)

	assert.NotContains(t, err.Error(), "secret")
	assert.Equal(t, `{"secret": "model text"}`, RawOf(err))
}

func TestError_UnwrapAndAs(t *testing.T) {
	cause := errors.New("connection reset")
	wrapped := fmt.Errorf("calling model: %w", ModelInvocation("gemini", cause))

	assert.ErrorIs(t, wrapped, cause)
	assert.Equal(t, KindModelInvocation, KindOf(wrapped))
	assert.False(t, IsRecoverable(wrapped))

	var e *Error
	require.True(t, errors.As(wrapped, &e))
	assert.Equal(t, "gemini", e.Message)
}

func TestError_IsByKind(t *testing.T) {
	err := NoJSONFound().WithAgent("draft")

	assert.True(t, errors.Is(err, &Error{Kind: KindNoJSONFound}))
	assert.True(t, errors.Is(err, &Error{Kind: KindNoJSONFound, Agent: "draft"}))
	assert.False(t, errors.Is(err, &Error{Kind: KindNoJSONFound, Agent: "review"}))
	assert.False(t, errors.Is(err, &Error{Kind: KindPayloadParse}))
}

func TestWithAgent_DoesNotMutate(t *testing.T) {
	base := NoJSONFound()
	tagged := base.WithAgent("review")

	assert.Empty(t, base.Agent)
	assert.Equal(t, "review", tagged.Agent)
}

// =============================================================================
// HELPER TESTS
// =============================================================================

func TestKindOf_PlainError(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
	assert.Equal(t, Kind(""), KindOf(nil))
	assert.False(t, IsKind(nil, KindLockViolation))
}

func TestUserMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"recoverable", PayloadParse("x", nil).WithRaw("raw model text"), GenericUserMessage},
		{"model failure", ModelInvocation("qwen", errors.New("503")), GenericUserMessage},
		{"lock", LockViolation("structure"), "structure is locked"},
		{"stage", StageViolation("draft", "brief"), "draft not allowed in stage brief"},
		{"plain", errors.New("boom"), GenericUserMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, UserMessage(tt.err))
		})
	}
}
