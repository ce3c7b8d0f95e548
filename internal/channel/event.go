// Package channel streams research-session events to clients over
// WebSocket and feeds client frames back into the runtime. The loop driver
// publishes through the Hub and is never blocked by a slow client.
package channel

import (
	"time"

	"github.com/propfolio/researchd/pkg/models"
)

// EventType discriminates outbound stream frames.
type EventType string

const (
	EventHeartbeat     EventType = "heartbeat"
	EventProgress      EventType = "progress"
	EventToolResult    EventType = "tool_result"
	EventCompleted     EventType = "completed"
	EventInterrupted   EventType = "interrupted"
	EventTimeout       EventType = "timeout"
	EventError         EventType = "error"
	EventStatusChanged EventType = "status_changed"
)

// Event is one outbound stream frame. Fields beyond Type are populated per
// event kind.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`

	// Progress and completion.
	Message string `json:"message,omitempty"`
	Title   string `json:"title,omitempty"`

	// Tool results carry the user-facing variant only.
	Tool       string `json:"tool,omitempty"`
	ToolResult string `json:"tool_result,omitempty"`
	ToolError  bool   `json:"tool_error,omitempty"`

	// Errors and status changes.
	Kind   string               `json:"kind,omitempty"`
	Status models.SessionStatus `json:"status,omitempty"`
}

// InboundType discriminates client frames.
type InboundType string

const (
	InboundUserInput InboundType = "user_input"
	InboundInterrupt InboundType = "interrupt"
)

// InboundFrame is one client frame.
type InboundFrame struct {
	Type        InboundType         `json:"type"`
	Instruction string              `json:"instruction,omitempty"`
	Attachments []models.Attachment `json:"attachments,omitempty"`
}
