// Package commbus is the in-process bus that carries writing pipeline
// events to subscribers and routes read-only queries to their handler.
package commbus

import "time"

// MessageCategory represents message routing categories.
type MessageCategory string

const (
	MessageCategoryEvent MessageCategory = "event"
	MessageCategoryQuery MessageCategory = "query"
)

// Message type names used for routing.
const (
	TypeStageAdvanced     = "StageAdvanced"
	TypeArtifactLocked    = "ArtifactLocked"
	TypeArtifactStored    = "ArtifactStored"
	TypeAgentRunCompleted = "AgentRunCompleted"
	TypeGetSession        = "GetSession"
)

// =============================================================================
// SESSION EVENTS
// =============================================================================

// StageAdvanced is emitted when a session moves forward in the flow.
type StageAdvanced struct {
	ProjectID string    `json:"project_id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	At        time.Time `json:"at"`
}

// Category implements Message.
func (m *StageAdvanced) Category() string { return string(MessageCategoryEvent) }

// ArtifactLocked is emitted when a lock flag changes. Locked is false for
// an override.
type ArtifactLocked struct {
	ProjectID string `json:"project_id"`
	Artifact  string `json:"artifact"`
	Locked    bool   `json:"locked"`
	Reason    string `json:"reason,omitempty"`
}

// Category implements Message.
func (m *ArtifactLocked) Category() string { return string(MessageCategoryEvent) }

// =============================================================================
// PIPELINE EVENTS
// =============================================================================

// ArtifactStored is emitted after a pipeline output is persisted.
type ArtifactStored struct {
	ProjectID string `json:"project_id"`
	Kind      string `json:"kind"`
	Version   int    `json:"version"`
}

// Category implements Message.
func (m *ArtifactStored) Category() string { return string(MessageCategoryEvent) }

// AgentRunCompleted is emitted once per pipeline operation.
type AgentRunCompleted struct {
	ProjectID  string `json:"project_id"`
	Operation  string `json:"operation"`
	Status     string `json:"status"` // "success", "error", "fallback"
	ErrorKind  string `json:"error_kind,omitempty"`
	Attempts   int    `json:"attempts"`
	DurationMS int    `json:"duration_ms"`
	Repaired   bool   `json:"repaired,omitempty"`
}

// Category implements Message.
func (m *AgentRunCompleted) Category() string { return string(MessageCategoryEvent) }

// =============================================================================
// QUERIES
// =============================================================================

// GetSession asks for a project's session snapshot.
type GetSession struct {
	ProjectID string `json:"project_id"`
}

// Category implements Message.
func (m *GetSession) Category() string { return string(MessageCategoryQuery) }

// IsQuery implements Query.
func (m *GetSession) IsQuery() {}

// TypedMessage lets a message name its own routing type.
type TypedMessage interface {
	MessageType() string
}

// GetMessageType returns the routing name of msg.
func GetMessageType(msg Message) string {
	if typed, ok := msg.(TypedMessage); ok {
		return typed.MessageType()
	}
	switch msg.(type) {
	case *StageAdvanced:
		return TypeStageAdvanced
	case *ArtifactLocked:
		return TypeArtifactLocked
	case *ArtifactStored:
		return TypeArtifactStored
	case *AgentRunCompleted:
		return TypeAgentRunCompleted
	case *GetSession:
		return TypeGetSession
	default:
		return "Unknown"
	}
}
