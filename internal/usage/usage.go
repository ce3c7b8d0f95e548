// Package usage tracks token consumption per model and per research session.
// The dispatcher records every successful LLM call here. The totals are
// accounting only; nothing rejects calls based on them.
package usage

import (
	"sync"
	"time"
)

// Usage is a token count pair.
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
}

// Total returns prompt plus completion tokens.
func (u Usage) Total() int64 { return u.PromptTokens + u.CompletionTokens }

// Add accumulates another usage record into this one.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
}

// Record is one LLM call's accounting entry.
type Record struct {
	Model     string    `json:"model"`
	SessionID string    `json:"session_id,omitempty"`
	Usage     Usage     `json:"usage"`
	Timestamp time.Time `json:"timestamp"`
}

// Tracker accumulates usage with per-model and per-session totals.
type Tracker struct {
	mu        sync.RWMutex
	byModel   map[string]*Usage
	bySession map[string]*Usage
	total     Usage
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		byModel:   make(map[string]*Usage),
		bySession: make(map[string]*Usage),
	}
}

// Track records one call.
func (t *Tracker) Track(rec Record) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.total.Add(rec.Usage)
	if m := t.byModel[rec.Model]; m != nil {
		m.Add(rec.Usage)
	} else {
		u := rec.Usage
		t.byModel[rec.Model] = &u
	}
	if rec.SessionID != "" {
		if s := t.bySession[rec.SessionID]; s != nil {
			s.Add(rec.Usage)
		} else {
			u := rec.Usage
			t.bySession[rec.SessionID] = &u
		}
	}
}

// Total returns the process-wide totals.
func (t *Tracker) Total() Usage {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.total
}

// ForModel returns the accumulated usage for one model.
func (t *Tracker) ForModel(model string) Usage {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if u := t.byModel[model]; u != nil {
		return *u
	}
	return Usage{}
}

// ForSession returns the accumulated usage for one research session.
func (t *Tracker) ForSession(sessionID string) Usage {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if u := t.bySession[sessionID]; u != nil {
		return *u
	}
	return Usage{}
}

// Snapshot returns a copy of all per-model totals.
func (t *Tracker) Snapshot() map[string]Usage {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]Usage, len(t.byModel))
	for model, u := range t.byModel {
		out[model] = *u
	}
	return out
}
