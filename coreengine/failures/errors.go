// Package failures defines the error taxonomy shared by the parser, the
// schema layer, the agent runtime and the session state machine.
package failures

import (
	"errors"
	"fmt"
)

// Kind classifies a failure. Callers branch on Kind, never on message text.
type Kind string

const (
	KindNoJSONFound       Kind = "no_json_found"
	KindEnvelopeStructure Kind = "envelope_structure"
	KindPayloadParse      Kind = "payload_parse"
	KindSchemaValidation  Kind = "schema_validation"
	KindModelInvocation   Kind = "model_invocation"
	KindLockViolation     Kind = "lock_violation"
	KindStageViolation    Kind = "stage_violation"
	KindInvalidInput      Kind = "invalid_input"
)

// Recoverable reports whether a fresh model attempt may fix the failure.
func (k Kind) Recoverable() bool {
	switch k {
	case KindNoJSONFound, KindEnvelopeStructure, KindPayloadParse, KindSchemaValidation:
		return true
	default:
		return false
	}
}

// GenericUserMessage is what end users see for any generation failure.
const GenericUserMessage = "generation failed, please retry"

// =============================================================================
// ERROR
// =============================================================================

// Error is the single error type carried across the orchestration layer.
//
// Raw holds the model text that produced a parse or validation failure. It is
// kept for logs and repair, and never rendered by Error().
type Error struct {
	Kind     Kind
	Agent    string
	Message  string
	Raw      string
	Attempts int
	Cause    error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Agent != "" {
		msg = e.Agent + ": " + msg
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Attempts > 0 {
		msg += fmt.Sprintf(" (after %d attempts)", e.Attempts)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error by Kind so errors.Is(err, &Error{Kind: k}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Agent == "" || t.Agent == e.Agent)
}

// WithAgent returns a copy tagged with the agent name.
func (e *Error) WithAgent(agent string) *Error {
	c := *e
	c.Agent = agent
	return &c
}

// WithRaw returns a copy carrying the raw model response.
func (e *Error) WithRaw(raw string) *Error {
	c := *e
	c.Raw = raw
	return &c
}

// =============================================================================
// CONSTRUCTORS
// =============================================================================

// New creates an Error of the given kind.
func New(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// NoJSONFound is returned when no brace-delimited block exists in model text.
func NoJSONFound() *Error {
	return New(KindNoJSONFound, "no JSON object found in response", nil)
}

// EnvelopeStructure is returned when the outer JSON does not match {meta, payload}.
func EnvelopeStructure(msg string, cause error) *Error {
	return New(KindEnvelopeStructure, msg, cause)
}

// PayloadParse is returned when the payload string is not a JSON object.
func PayloadParse(msg string, cause error) *Error {
	return New(KindPayloadParse, msg, cause)
}

// SchemaValidation is returned when a payload violates its agent's contract.
func SchemaValidation(schema string, msg string) *Error {
	return &Error{Kind: KindSchemaValidation, Message: schema + ": " + msg}
}

// ModelInvocation wraps a transport or provider failure.
func ModelInvocation(provider string, cause error) *Error {
	return New(KindModelInvocation, provider, cause)
}

// LockViolation is returned when a locked artifact would be regenerated.
func LockViolation(artifact string) *Error {
	return New(KindLockViolation, artifact+" is locked", nil)
}

// StageViolation is returned when an operation is not allowed in the session's stage.
func StageViolation(op string, stage string) *Error {
	return New(KindStageViolation, fmt.Sprintf("%s not allowed in stage %s", op, stage), nil)
}

// InvalidInput is returned for caller mistakes detected before any model call.
func InvalidInput(msg string) *Error {
	return New(KindInvalidInput, msg, nil)
}

// =============================================================================
// HELPERS
// =============================================================================

// KindOf returns the Kind of err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsRecoverable reports whether the runtime may retry after err.
func IsRecoverable(err error) bool {
	return KindOf(err).Recoverable()
}

// RawOf returns the raw model response attached to err, if any.
func RawOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Raw
	}
	return ""
}

// UserMessage maps err to text safe to show an end user. Raw model output
// never leaks through here.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	switch KindOf(err) {
	case KindLockViolation, KindStageViolation, KindInvalidInput:
		var e *Error
		errors.As(err, &e)
		return e.Message
	default:
		return GenericUserMessage
	}
}
