package gateway

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/propfolio/researchd/internal/auth"
	"github.com/propfolio/researchd/internal/channel"
	"github.com/propfolio/researchd/internal/format"
	"github.com/propfolio/researchd/internal/observability"
	"github.com/propfolio/researchd/internal/sessions"
	"github.com/propfolio/researchd/pkg/models"
)

// LoopStarter is the supervisor surface the intake signals.
type LoopStarter interface {
	EnsureLoop(sessionID string) error
	Interrupt(sessionID string)
}

// UserToucher refreshes a user's login session on activity. Optional.
type UserToucher interface {
	Touch(ctx context.Context, userID string) (*models.UserSession, error)
}

// Intake turns client requests into session mutations and loop signals. It
// backs both the REST handlers and the websocket inbound frames.
type Intake struct {
	store      *sessions.Store
	supervisor LoopStarter
	hub        *channel.Hub
	users      UserToucher
	defaults   models.SessionConfig
	logger     *observability.Logger
	now        func() time.Time
}

// NewIntake builds an intake. users may be nil.
func NewIntake(store *sessions.Store, supervisor LoopStarter, hub *channel.Hub, users UserToucher, defaults models.SessionConfig, logger *observability.Logger) *Intake {
	return &Intake{
		store:      store,
		supervisor: supervisor,
		hub:        hub,
		users:      users,
		defaults:   defaults,
		logger:     logger,
		now:        time.Now,
	}
}

// CreateSession registers a new research session with its initial user
// entry and starts its loop.
func (in *Intake) CreateSession(ctx context.Context, identity auth.Identity, instruction string, attachments []models.Attachment) (string, error) {
	now := in.now().UTC()
	cfg := in.defaults
	cfg.InitialInstruction = instruction

	session := &models.Session{
		ID:           uuid.NewString(),
		OwnerID:      identity.UserID,
		OrgID:        identity.OrgID,
		Status:       models.StatusPending,
		Config:       cfg,
		ResearchGoal: instruction,
		History: []models.ConversationEntry{{
			ID:          uuid.NewString(),
			Sender:      models.SenderUser,
			Message:     format.Message(instruction, attachments),
			Timestamp:   now,
			Attachments: attachments,
		}},
		CreatedAt:      now,
		LastActivityAt: now,
	}
	if err := in.store.Create(session); err != nil {
		return "", err
	}

	in.touch(ctx, identity.UserID)
	if in.logger != nil {
		in.logger.Info(ctx, "session created", "session_id", session.ID, "user_id", identity.UserID)
	}
	if err := in.supervisor.EnsureLoop(session.ID); err != nil {
		return session.ID, err
	}
	return session.ID, nil
}

// HandleUserInput appends a user entry. Terminal and awaiting-input
// sessions are reactivated: status back to Pending, research goal replaced,
// and the supervisor signaled.
func (in *Intake) HandleUserInput(ctx context.Context, sessionID, instruction string, attachments []models.Attachment) error {
	message := format.Message(instruction, attachments)
	now := in.now().UTC()

	var owner string
	var reactivated bool
	var pending bool
	err := in.store.WithSession(sessionID, func(s *models.Session) error {
		entry := models.ConversationEntry{
			ID:          uuid.NewString(),
			Sender:      models.SenderUser,
			Message:     message,
			Depth:       len(s.History),
			Timestamp:   now,
			Attachments: attachments,
		}
		if n := len(s.History); n > 0 {
			entry.ParentID = s.History[n-1].ID
		}
		s.History = append(s.History, entry)
		s.LastActivityAt = now

		if s.Status.Terminal() || s.Status == models.StatusAwaitingInput {
			s.Status = models.StatusPending
			s.ResearchGoal = message
			reactivated = true
		}
		pending = s.Status == models.StatusPending
		owner = s.OwnerID
		return nil
	})
	if err != nil {
		return err
	}

	in.touch(ctx, owner)
	if reactivated {
		if in.hub != nil {
			in.hub.Publish(sessionID, channel.Event{Type: channel.EventStatusChanged, Status: models.StatusPending})
		}
		if in.logger != nil {
			in.logger.Info(ctx, "session reactivated", "session_id", sessionID)
		}
	}
	if pending {
		return in.supervisor.EnsureLoop(sessionID)
	}
	return nil
}

// HandleInterrupt relays an interrupt to the supervisor.
func (in *Intake) HandleInterrupt(ctx context.Context, sessionID string) error {
	if _, err := in.store.Snapshot(sessionID); err != nil {
		return err
	}
	in.supervisor.Interrupt(sessionID)
	return nil
}

func (in *Intake) touch(ctx context.Context, userID string) {
	if in.users == nil || userID == "" {
		return
	}
	if _, err := in.users.Touch(ctx, userID); err != nil && in.logger != nil {
		in.logger.Warn(ctx, "user session touch failed", "user_id", userID, "error", err)
	}
}
