// Package agent drives research sessions: it assembles the agent prompt,
// dispatches typed LLM turns, executes the requested tool actions in order,
// and walks the session state machine to a terminal status. One RunLoop
// call owns one session for its lifetime; the supervisor guarantees at most
// one per session.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/propfolio/researchd/internal/channel"
	"github.com/propfolio/researchd/internal/credits"
	"github.com/propfolio/researchd/internal/dispatch"
	"github.com/propfolio/researchd/internal/observability"
	"github.com/propfolio/researchd/internal/sessions"
	"github.com/propfolio/researchd/internal/tools"
	"github.com/propfolio/researchd/pkg/models"
)

// Options configures a Driver.
type Options struct {
	// Models are dispatch candidates in priority order, each "provider/model".
	Models []string

	// Interrupted reports whether an interrupt has been requested for the
	// session. The supervisor wires its level-triggered flag here; nil means
	// only the session status is consulted.
	Interrupted func(sessionID string) bool

	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// Driver runs the research loop for sessions.
type Driver struct {
	store      *sessions.Store
	dispatcher *dispatch.Dispatcher
	invoker    *tools.Invoker
	registry   *tools.Registry
	hub        *channel.Hub

	responseTarget   *dispatch.Target[models.AgentResponse]
	compactionTarget *dispatch.Target[CompactionSummary]

	modelList   []string
	interrupted func(string) bool
	logger      *observability.Logger
	metrics     *observability.Metrics
	now         func() time.Time
}

// New builds a Driver. The dispatch targets are reflected once here and
// reused for every turn.
func New(store *sessions.Store, dispatcher *dispatch.Dispatcher, invoker *tools.Invoker, registry *tools.Registry, hub *channel.Hub, opts Options) (*Driver, error) {
	responseTarget, err := NewResponseTarget()
	if err != nil {
		return nil, fmt.Errorf("agent response target: %w", err)
	}
	compactionTarget, err := NewCompactionTarget()
	if err != nil {
		return nil, fmt.Errorf("compaction target: %w", err)
	}
	return &Driver{
		store:            store,
		dispatcher:       dispatcher,
		invoker:          invoker,
		registry:         registry,
		hub:              hub,
		responseTarget:   responseTarget,
		compactionTarget: compactionTarget,
		modelList:        opts.Models,
		interrupted:      opts.Interrupted,
		logger:           opts.Logger,
		metrics:          opts.Metrics,
		now:              time.Now,
	}, nil
}

// RunLoop drives one session until it reaches a terminal status or
// AwaitingInput. It always leaves the session out of Running before
// returning, including on panic.
func (d *Driver) RunLoop(ctx context.Context, sessionID, loopToken string) {
	if d.metrics != nil {
		d.metrics.ActiveLoops.Inc()
		defer d.metrics.ActiveLoops.Dec()
	}
	defer func() {
		if r := recover(); r != nil {
			if d.logger != nil {
				d.logger.Error(ctx, "research loop panicked", "session_id", sessionID, "panic", fmt.Sprint(r))
			}
			if d.transition(sessionID, models.StatusRunning, models.StatusError) {
				d.publish(sessionID, channel.Event{Type: channel.EventError, Kind: "panic", Message: "internal error"})
			}
		}
	}()

	if !d.transition(sessionID, models.StatusPending, models.StatusRunning) {
		snapshot, err := d.store.Snapshot(sessionID)
		if err != nil || snapshot.Status != models.StatusRunning {
			if d.logger != nil {
				d.logger.Warn(ctx, "loop start refused", "session_id", sessionID, "loop_token", loopToken)
			}
			return
		}
	}
	if d.logger != nil {
		d.logger.Info(ctx, "research loop started", "session_id", sessionID, "loop_token", loopToken)
	}

	for {
		snapshot, err := d.store.Snapshot(sessionID)
		if err != nil {
			d.failLoop(ctx, sessionID, "session_lost", err)
			return
		}

		if done := d.checkBoundary(ctx, sessionID, snapshot); done {
			return
		}

		if needsCompaction(snapshot) {
			if err := d.compact(ctx, snapshot); err != nil {
				if d.logger != nil {
					d.logger.Warn(ctx, "compaction failed", "session_id", sessionID, "error", err)
				}
			} else if snapshot, err = d.store.Snapshot(sessionID); err != nil {
				d.failLoop(ctx, sessionID, "session_lost", err)
				return
			}
		}

		response, err := dispatch.Dispatch(ctx, d.dispatcher, d.responseTarget, dispatch.Request{
			Task:      buildPrompt(snapshot, d.registry.Describe()),
			Models:    d.modelList,
			Format:    dispatch.FormatJSON,
			SessionID: sessionID,
		})
		if err != nil {
			d.failLoop(ctx, sessionID, failureKind(err), err)
			return
		}

		if err := d.appendAgentEntry(sessionID, response); err != nil {
			d.failLoop(ctx, sessionID, "session_lost", err)
			return
		}
		d.publish(sessionID, channel.Event{Type: channel.EventProgress, Message: response.UserAnswer})

		if response.IsFinal {
			title := response.Title
			if title == "" {
				title = snapshot.ResearchGoal
			}
			if d.transition(sessionID, models.StatusRunning, models.StatusCompleted) {
				d.publish(sessionID, channel.Event{Type: channel.EventCompleted, Title: title, Message: response.UserAnswer})
			}
			return
		}

		if len(response.Actions) == 0 {
			// A non-final turn with no actions means the agent needs more
			// from the user.
			d.transition(sessionID, models.StatusRunning, models.StatusAwaitingInput)
			return
		}

		for _, action := range response.Actions {
			if d.interruptRequested(sessionID) {
				d.finishInterrupt(sessionID)
				return
			}
			d.runAction(ctx, sessionID, snapshot, action)
		}
	}
}

// checkBoundary applies the iteration-boundary exits: already-terminal
// status, interrupt, and wall-clock timeout. It reports whether the loop
// should return.
func (d *Driver) checkBoundary(ctx context.Context, sessionID string, snapshot *models.Session) bool {
	if snapshot.Status != models.StatusRunning {
		if snapshot.Status == models.StatusInterrupted {
			d.publish(sessionID, channel.Event{Type: channel.EventInterrupted, Status: models.StatusInterrupted})
		}
		return true
	}
	if d.interruptRequested(sessionID) {
		d.finishInterrupt(sessionID)
		return true
	}
	if limit := snapshot.Config.TimeLimit; limit > 0 && d.now().Sub(snapshot.CreatedAt) >= limit {
		if d.transition(sessionID, models.StatusRunning, models.StatusTimeout) {
			d.publish(sessionID, channel.Event{Type: channel.EventTimeout, Status: models.StatusTimeout,
				Message: "session exceeded its time limit"})
		}
		if d.logger != nil {
			d.logger.Info(ctx, "session timed out", "session_id", sessionID, "limit", limit.String())
		}
		return true
	}
	return false
}

func (d *Driver) interruptRequested(sessionID string) bool {
	return d.interrupted != nil && d.interrupted(sessionID)
}

func (d *Driver) finishInterrupt(sessionID string) {
	if d.transition(sessionID, models.StatusRunning, models.StatusInterrupted) {
		d.publish(sessionID, channel.Event{Type: channel.EventInterrupted, Status: models.StatusInterrupted})
	}
}

// runAction invokes one tool choice and records its outcome as a Tool
// entry. Failures become error entries the model sees next turn; they never
// abort the action list.
func (d *Driver) runAction(ctx context.Context, sessionID string, snapshot *models.Session, action models.ToolChoice) {
	owner := credits.Owner{UserID: snapshot.OwnerID, OrgID: snapshot.OrgID}
	result, err := d.invoker.Invoke(ctx, action, sessionID, owner)

	response := models.ToolResponse{}
	if err != nil {
		response.IsError = true
		response.Full = err.Error()
		response.User = userFacingToolError(action.Name, err)
	} else {
		response.Full = result.Full
		response.User = result.User
	}

	if appendErr := d.appendEntry(sessionID, models.ConversationEntry{
		Sender:       models.SenderTool,
		Message:      action.Name,
		ToolResponse: &response,
	}); appendErr != nil && d.logger != nil {
		d.logger.Error(ctx, "tool entry append failed", "session_id", sessionID, "tool", action.Name, "error", appendErr)
	}

	d.publish(sessionID, channel.Event{
		Type:       channel.EventToolResult,
		Tool:       action.Name,
		ToolResult: response.User,
		ToolError:  response.IsError,
	})
}

// appendAgentEntry records one agent turn. The full typed response is kept
// as the entry message so later prompts replay exactly what the model said.
func (d *Driver) appendAgentEntry(sessionID string, response models.AgentResponse) error {
	raw, err := json.Marshal(response)
	if err != nil {
		return err
	}
	entry := models.ConversationEntry{
		Sender:  models.SenderAgent,
		Message: string(raw),
	}
	if len(response.Actions) > 0 {
		choice := response.Actions[0]
		entry.ToolChoice = &choice
	}
	return d.appendEntry(sessionID, entry)
}

// appendEntry appends under exclusive access, stamping id, parent, depth,
// and timestamps.
func (d *Driver) appendEntry(sessionID string, entry models.ConversationEntry) error {
	return d.store.WithSession(sessionID, func(s *models.Session) error {
		entry.ID = uuid.NewString()
		entry.Depth = len(s.History)
		entry.Timestamp = d.now().UTC()
		if n := len(s.History); n > 0 {
			entry.ParentID = s.History[n-1].ID
		}
		s.History = append(s.History, entry)
		s.LastActivityAt = entry.Timestamp
		return nil
	})
}

// failLoop moves the session to Error and emits the error event. Used for
// unrecoverable conditions only; tool failures stay inside the loop.
func (d *Driver) failLoop(ctx context.Context, sessionID, kind string, err error) {
	if d.logger != nil {
		d.logger.Error(ctx, "research loop failed", "session_id", sessionID, "kind", kind, "error", err)
	}
	if d.transition(sessionID, models.StatusRunning, models.StatusError) {
		d.publish(sessionID, channel.Event{Type: channel.EventError, Kind: kind, Message: err.Error()})
	}
}

func (d *Driver) transition(sessionID string, from, to models.SessionStatus) bool {
	if !d.store.TryTransition(sessionID, from, to) {
		return false
	}
	d.publish(sessionID, channel.Event{Type: channel.EventStatusChanged, Status: to})
	return true
}

func (d *Driver) publish(sessionID string, event channel.Event) {
	if d.hub != nil {
		d.hub.Publish(sessionID, event)
	}
}

// failureKind maps a dispatch error to the machine-readable kind carried by
// the error event.
func failureKind(err error) string {
	var attempt *dispatch.AttemptError
	if errors.As(err, &attempt) {
		return string(attempt.Kind)
	}
	return "transport"
}

// userFacingToolError renders a tool failure for the client stream without
// leaking internals.
func userFacingToolError(tool string, err error) string {
	var invokeErr *tools.InvokeError
	if errors.As(err, &invokeErr) {
		switch invokeErr.Kind {
		case tools.KindUnknownTool:
			return fmt.Sprintf("%s is not an available tool", tool)
		case tools.KindBadParameters:
			return fmt.Sprintf("%s was called with invalid parameters", tool)
		case tools.KindInsufficientCredits:
			return fmt.Sprintf("%s needs more credits than are available", tool)
		case tools.KindTimeout:
			return fmt.Sprintf("%s timed out", tool)
		}
	}
	return fmt.Sprintf("%s failed", tool)
}
