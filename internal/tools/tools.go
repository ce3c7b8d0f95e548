// Package tools defines the closed tool catalog the agent can act through,
// and the invocation pipeline that validates parameters, accounts credits,
// and executes with a per-tool timeout.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

// Result is the mandatory bifurcated tool output: Full goes into history as
// LLM context, User is streamed to the client.
type Result struct {
	Full string
	User string
}

// Tool is one catalog entry. Cost returns the credit price of a call with
// the given parameters; read-only tools return zero.
type Tool interface {
	Name() string
	Description() string
	Schema() json.RawMessage
	Cost(params json.RawMessage) int64
	Execute(ctx context.Context, params json.RawMessage) (*Result, error)
}

// FailureKind classifies invocation failures. All of them surface to the
// model as failed tool results, never as loop-fatal errors.
type FailureKind string

const (
	KindUnknownTool         FailureKind = "unknown_tool"
	KindBadParameters       FailureKind = "bad_parameters"
	KindInsufficientCredits FailureKind = "insufficient_credits"
	KindTimeout             FailureKind = "timeout"
	KindExecution           FailureKind = "execution"
)

// InvokeError is a failed invocation with a machine-readable kind.
type InvokeError struct {
	Kind  FailureKind
	Tool  string
	Cause error
}

func (e *InvokeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("tool %s: %s: %v", e.Tool, e.Kind, e.Cause)
	}
	return fmt.Sprintf("tool %s: %s", e.Tool, e.Kind)
}

func (e *InvokeError) Unwrap() error { return e.Cause }
