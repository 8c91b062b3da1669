package models

import "time"

// EventType names an observable worker side effect.
type EventType string

const (
	// EventMessage carries the assistant's message text for a turn.
	EventMessage EventType = "message"
	// EventQuestions carries the parsed question blocks for a turn.
	EventQuestions EventType = "questions"
	// EventComplete marks the end of a successfully processed turn.
	EventComplete EventType = "complete"
	// EventError marks a failed turn; Retryable distinguishes transient failures.
	EventError EventType = "error"

	EventStreamingStart    EventType = "streaming:start"
	EventStreamingChunk    EventType = "streaming:chunk"
	EventStreamingComplete EventType = "streaming:complete"
	EventStreamingError    EventType = "streaming:error"
)

// Event is one emitted lifecycle notification.
type Event struct {
	Type      EventType   `json:"type"`
	ThreadID  string      `json:"thread_id"`
	Payload   interface{} `json:"payload,omitempty"`
	Retryable bool        `json:"retryable,omitempty"` // meaningful only for error events
	Timestamp time.Time   `json:"timestamp"`
}
