package commbus

import "context"

// =============================================================================
// COMMBUS PROTOCOLS
// =============================================================================

// Message is anything carried by the bus.
type Message interface {
	// Category returns "event" or "query".
	Category() string
}

// Query is a message that expects a response from a single handler.
type Query interface {
	Message
	IsQuery()
}

// HandlerFunc processes a message. Query handlers return a response.
type HandlerFunc func(ctx context.Context, message Message) (any, error)

// Middleware intercepts messages before and after handling.
type Middleware interface {
	// Before returns the message to deliver, or nil to drop it.
	Before(ctx context.Context, message Message) (Message, error)

	// After sees the handler outcome and may replace the result.
	After(ctx context.Context, message Message, result any, err error) (any, error)
}

// CommBus is the in-process pipeline bus.
//
//   - Publish(event): fan-out to every subscriber
//   - QuerySync(query): request-response with one handler
type CommBus interface {
	Publish(ctx context.Context, event Message) error
	QuerySync(ctx context.Context, query Query) (any, error)

	Subscribe(eventType string, handler HandlerFunc) func()
	RegisterHandler(messageType string, handler HandlerFunc) error
	AddMiddleware(middleware Middleware)

	HasHandler(messageType string) bool
	SubscriberCount(eventType string) int
}
