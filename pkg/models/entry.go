package models

import (
	"encoding/json"
	"time"
)

// Sender identifies the author of a conversation entry.
type Sender string

const (
	SenderUser  Sender = "user"
	SenderAgent Sender = "agent"
	SenderTool  Sender = "tool"
)

// ConversationEntry is one turn in a session's history. Entries are never
// mutated after append; Depth always equals the entry's index in history.
type ConversationEntry struct {
	ID          string       `json:"id"`
	ParentID    string       `json:"parent_id,omitempty"`
	Depth       int          `json:"depth"`
	Sender      Sender       `json:"sender"`
	Message     string       `json:"message"`
	Timestamp   time.Time    `json:"timestamp"`
	Attachments []Attachment `json:"attachments,omitempty"`

	// ToolChoice is set iff Sender == SenderAgent and the agent requested a
	// tool action in this entry.
	ToolChoice *ToolChoice `json:"tool_choice,omitempty"`

	// ToolResponse is set iff Sender == SenderTool.
	ToolResponse *ToolResponse `json:"tool_response,omitempty"`
}

func (e ConversationEntry) clone() ConversationEntry {
	cp := e
	if e.Attachments != nil {
		cp.Attachments = make([]Attachment, len(e.Attachments))
		copy(cp.Attachments, e.Attachments)
	}
	if e.ToolChoice != nil {
		tc := *e.ToolChoice
		tc.Parameters = append(json.RawMessage(nil), e.ToolChoice.Parameters...)
		cp.ToolChoice = &tc
	}
	if e.ToolResponse != nil {
		tr := *e.ToolResponse
		cp.ToolResponse = &tr
	}
	return cp
}

// ToolChoice is a single tool action requested by the agent. Parameters are
// kept as raw JSON and validated against the tool's declared schema at
// dispatch time, which keeps the catalog closed without a giant union type.
type ToolChoice struct {
	Name       string          `json:"name"`
	Parameters json.RawMessage `json:"parameters"`
}

// ToolResponse carries both representations of a tool result: the full value
// stored for LLM context and the user-facing value streamed to clients.
type ToolResponse struct {
	Full    string `json:"full"`
	User    string `json:"user"`
	IsError bool   `json:"is_error,omitempty"`
}

// AgentResponse is the typed output contract of one agent turn.
// When IsFinal is true, Actions must be empty and Title must be set.
type AgentResponse struct {
	Reasoning  string       `json:"reasoning"`
	UserAnswer string       `json:"user_answer"`
	Title      string       `json:"title,omitempty"`
	IsFinal    bool         `json:"is_final"`
	Actions    []ToolChoice `json:"actions"`
}
