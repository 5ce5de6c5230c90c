// Package envelope decodes the two-layer envelope every agent emits:
//
//	{"meta": {"agent": "<name>", "timestamp": "<ISO-8601>"},
//	 "payload": "<JSON document encoded as a string>"}
//
// The outer object and the inner payload are decoded in two separate typed
// steps so a failure is always attributed to the layer that caused it.
package envelope

import (
	"encoding/json"
	"strings"

	"github.com/jeeves-cluster-organization/cowrite/coreengine/failures"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/normalize"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/typeutil"
)

// Envelope is the decoded outer layer. Meta is informational and never
// validated against a payload contract.
type Envelope struct {
	Meta    map[string]any `json:"meta"`
	Payload string         `json:"payload"`
}

// Agent returns meta.agent, or "" when absent.
func (e *Envelope) Agent() string {
	return typeutil.SafeStringDefault(e.Meta["agent"], "")
}

// Timestamp returns meta.timestamp, or "" when absent.
func (e *Envelope) Timestamp() string {
	return typeutil.SafeStringDefault(e.Meta["timestamp"], "")
}

// Parse recovers the payload object from raw model text.
//
// A nil map with a nil error means the payload was empty, which some agents
// legitimately produce. Every failure is a *failures.Error whose kind names
// the step that failed.
func Parse(raw string) (map[string]any, error) {
	block, err := normalize.ExtractFirstJSONBlock(raw)
	if err != nil {
		return nil, err
	}
	env, err := Decode(normalize.Normalize(block))
	if err != nil {
		return nil, err
	}
	return ParsePayload(env.Payload)
}

// ParsePayload decodes a payload string that arrived without an outer
// envelope.
func ParsePayload(payload string) (map[string]any, error) {
	if strings.TrimSpace(payload) == "" {
		return nil, nil
	}

	var v any
	if err := json.Unmarshal([]byte(normalize.Normalize(payload)), &v); err != nil {
		return nil, failures.PayloadParse("payload is not valid JSON", err)
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, failures.PayloadParse("payload must be a JSON object", nil)
	}
	return obj, nil
}

// Decode parses already-normalized outer text into an Envelope. meta must be
// an object and payload must be a string, not an inlined object.
func Decode(text string) (*Envelope, error) {
	var outer map[string]any
	if err := json.Unmarshal([]byte(text), &outer); err != nil {
		return nil, failures.EnvelopeStructure("envelope is not a valid JSON object", err)
	}

	meta, ok := outer["meta"].(map[string]any)
	if !ok {
		return nil, failures.EnvelopeStructure("meta must be an object", nil)
	}
	payload, ok := outer["payload"].(string)
	if !ok {
		return nil, failures.EnvelopeStructure("payload must be a string", nil)
	}
	return &Envelope{Meta: meta, Payload: payload}, nil
}
