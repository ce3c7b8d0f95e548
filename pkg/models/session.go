// Package models defines the shared data types for the research session
// runtime: sessions, conversation entries, attachments, tool choices, and
// credit records. All other packages depend on these types; this package
// depends on nothing but the standard library.
package models

import (
	"time"
)

// SessionStatus represents the lifecycle state of a research session.
type SessionStatus string

const (
	StatusCreated       SessionStatus = "created"
	StatusPending       SessionStatus = "pending"
	StatusRunning       SessionStatus = "running"
	StatusAwaitingInput SessionStatus = "awaiting_input"
	StatusCompleted     SessionStatus = "completed"
	StatusInterrupted   SessionStatus = "interrupted"
	StatusTimeout       SessionStatus = "timeout"
	StatusError         SessionStatus = "error"
)

// Terminal reports whether the status is a terminal state. Terminal sessions
// keep their history and may be reactivated by a new user input.
func (s SessionStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusInterrupted, StatusTimeout, StatusError:
		return true
	default:
		return false
	}
}

// SessionConfig holds the per-session limits fixed at creation time.
type SessionConfig struct {
	// TimeLimit bounds the session's wall-clock age measured from creation.
	TimeLimit time.Duration `json:"time_limit"`

	// MaxConversationLength is the history length at which compaction triggers.
	MaxConversationLength int `json:"max_conversation_length"`

	// TokenBudget caps total tokens the session may consume (accounting only).
	TokenBudget int `json:"token_budget"`

	// PreserveExchanges is the number of most recent entries kept verbatim
	// through compaction.
	PreserveExchanges int `json:"preserve_exchanges"`

	// InitialInstruction is the instruction the session was created with.
	InitialInstruction string `json:"initial_instruction"`
}

// Session is a multi-turn research conversation plus its state machine.
//
// History is append-only except for compaction. Status transitions are the
// exclusive business of the loop driver, the supervisor, and the client
// channel handler; all of them go through the session store's exclusive
// access discipline.
type Session struct {
	ID           string        `json:"id"`
	OwnerID      string        `json:"owner_id"`
	OrgID        string        `json:"org_id,omitempty"`
	Status       SessionStatus `json:"status"`
	Config       SessionConfig `json:"config"`
	ResearchGoal string        `json:"research_goal"`

	History []ConversationEntry `json:"history"`
	Context []ContextEntry      `json:"context"`

	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`

	// ActiveLoopToken identifies the running loop iteration. Empty iff no
	// loop is running. Only the supervisor assigns and clears it.
	ActiveLoopToken string `json:"active_loop_token,omitempty"`
}

// Clone returns a deep copy of the session, safe to read after the store's
// lock has been released.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	cp.History = make([]ConversationEntry, len(s.History))
	for i := range s.History {
		cp.History[i] = s.History[i].clone()
	}
	cp.Context = make([]ContextEntry, len(s.Context))
	copy(cp.Context, s.Context)
	return &cp
}

// ContextEntry is a fact extracted by compaction that survives history
// truncation.
type ContextEntry struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}
