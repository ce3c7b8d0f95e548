// Package supervisor owns loop lifecycle: it guarantees at most one driver
// goroutine per session, relays interrupt requests, enforces the session
// time limit from outside the loop, and reconciles orphaned sessions at
// startup.
package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/propfolio/researchd/internal/channel"
	"github.com/propfolio/researchd/internal/observability"
	"github.com/propfolio/researchd/internal/sessions"
	"github.com/propfolio/researchd/pkg/models"
)

// LoopRunner is the driver surface the supervisor spawns. RunLoop blocks
// until the session leaves Running.
type LoopRunner interface {
	RunLoop(ctx context.Context, sessionID, loopToken string)
}

// Reconciler lists persisted sessions by status for startup recovery.
type Reconciler interface {
	SessionIDsByStatus(ctx context.Context, status models.SessionStatus) ([]string, error)
}

// Supervisor tracks running loops and their interrupt flags.
type Supervisor struct {
	store   *sessions.Store
	driver  LoopRunner
	hub     *channel.Hub
	logger  *observability.Logger
	metrics *observability.Metrics

	mu         sync.Mutex
	active     map[string]string
	interrupts map[string]bool

	tickInterval time.Duration
	now          func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a supervisor and starts its timeout ticker. tickInterval
// defaults to 30 seconds when non-positive.
func New(store *sessions.Store, driver LoopRunner, hub *channel.Hub, tickInterval time.Duration, logger *observability.Logger, metrics *observability.Metrics) *Supervisor {
	if tickInterval <= 0 {
		tickInterval = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Supervisor{
		store:        store,
		driver:       driver,
		hub:          hub,
		logger:       logger,
		metrics:      metrics,
		active:       make(map[string]string),
		interrupts:   make(map[string]bool),
		tickInterval: tickInterval,
		now:          time.Now,
		ctx:          ctx,
		cancel:       cancel,
	}
	s.wg.Add(1)
	go s.tickLoop()
	return s
}

// Close cancels all running loops and waits for them to exit.
func (s *Supervisor) Close() {
	s.cancel()
	s.wg.Wait()
}

// EnsureLoop starts a driver for the session unless one is already
// running. The claim is a compare-and-set on ActiveLoopToken under the
// session lock, so concurrent callers race safely; the loser is a no-op.
func (s *Supervisor) EnsureLoop(sessionID string) error {
	token := uuid.NewString()
	claimed := false
	err := s.store.WithSession(sessionID, func(session *models.Session) error {
		if session.ActiveLoopToken != "" {
			return nil
		}
		if session.Status != models.StatusPending {
			return nil
		}
		session.ActiveLoopToken = token
		claimed = true
		return nil
	})
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}

	s.mu.Lock()
	s.active[sessionID] = token
	delete(s.interrupts, sessionID)
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(sessionID, token)
	return nil
}

// Interrupt requests that the session stop. The flag is level-triggered:
// setting it twice still yields one status transition, performed either by
// the running driver at its next check or here for a loop that has not
// started yet.
func (s *Supervisor) Interrupt(sessionID string) {
	s.mu.Lock()
	s.interrupts[sessionID] = true
	running := s.active[sessionID] != ""
	s.mu.Unlock()

	if !running && s.store.TryTransition(sessionID, models.StatusPending, models.StatusInterrupted) {
		s.publish(sessionID, channel.Event{Type: channel.EventStatusChanged, Status: models.StatusInterrupted})
		s.publish(sessionID, channel.Event{Type: channel.EventInterrupted, Status: models.StatusInterrupted})
	}
}

// InterruptRequested reports the session's interrupt flag. Drivers poll
// this at iteration boundaries and between actions.
func (s *Supervisor) InterruptRequested(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interrupts[sessionID]
}

// ActiveLoops returns the number of loops the supervisor is tracking.
func (s *Supervisor) ActiveLoops() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Reconcile handles sessions left Running by a previous process: no loop
// exists for them anymore, so they are moved to Error. Called once at
// startup before the gateway accepts traffic.
func (s *Supervisor) Reconcile(ctx context.Context, persisted Reconciler) error {
	ids, err := persisted.SessionIDsByStatus(ctx, models.StatusRunning)
	if err != nil {
		return err
	}
	for _, id := range ids {
		moved := false
		err := s.store.WithSession(id, func(session *models.Session) error {
			if session.Status == models.StatusRunning {
				session.Status = models.StatusError
				session.ActiveLoopToken = ""
				moved = true
			}
			return nil
		})
		if err != nil {
			if s.logger != nil {
				s.logger.Error(ctx, "reconciliation failed", "session_id", id, "error", err)
			}
			continue
		}
		if !moved {
			continue
		}
		if s.metrics != nil {
			s.metrics.StatusTransitions.WithLabelValues(
				string(models.StatusRunning), string(models.StatusError)).Inc()
		}
		if s.logger != nil {
			s.logger.Warn(ctx, "orphaned running session moved to error", "session_id", id)
		}
	}
	return nil
}

// run wraps one driver invocation and releases the loop claim afterwards.
func (s *Supervisor) run(sessionID, token string) {
	defer s.wg.Done()
	defer func() {
		releaseErr := s.store.WithSession(sessionID, func(session *models.Session) error {
			if session.ActiveLoopToken == token {
				session.ActiveLoopToken = ""
			}
			return nil
		})
		if releaseErr != nil && s.logger != nil {
			s.logger.Error(context.Background(), "loop token release failed", "session_id", sessionID, "error", releaseErr)
		}
		s.mu.Lock()
		if s.active[sessionID] == token {
			delete(s.active, sessionID)
			delete(s.interrupts, sessionID)
		}
		s.mu.Unlock()
	}()

	s.driver.RunLoop(s.ctx, sessionID, token)
}

// tickLoop enforces the wall-clock limit on tracked sessions so a loop
// stuck inside a long call still times out.
func (s *Supervisor) tickLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.expireOverdue()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Supervisor) expireOverdue() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.active))
	for id := range s.active {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		snapshot, err := s.store.Snapshot(id)
		if err != nil {
			continue
		}
		limit := snapshot.Config.TimeLimit
		if limit <= 0 || s.now().Sub(snapshot.CreatedAt) < limit {
			continue
		}
		if s.store.TryTransition(id, models.StatusRunning, models.StatusTimeout) {
			s.publish(id, channel.Event{Type: channel.EventStatusChanged, Status: models.StatusTimeout})
			s.publish(id, channel.Event{Type: channel.EventTimeout, Status: models.StatusTimeout,
				Message: "session exceeded its time limit"})
			if s.logger != nil {
				s.logger.Info(context.Background(), "session timed out", "session_id", id, "limit", limit.String())
			}
		}
	}
}

func (s *Supervisor) publish(sessionID string, event channel.Event) {
	if s.hub != nil {
		s.hub.Publish(sessionID, event)
	}
}
