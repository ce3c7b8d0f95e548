// Package sessions implements the process-wide session store: the single
// mutable shared resource of the runtime. All mutation goes through
// WithSession, which grants exclusive access for the duration of the
// callback; readers take consistent snapshots. The store never performs
// external I/O while a session lock is held; durability happens on an
// asynchronous writeback queue.
package sessions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/propfolio/researchd/internal/observability"
	"github.com/propfolio/researchd/pkg/models"
)

var (
	// ErrNotFound is returned when no session exists for the id.
	ErrNotFound = errors.New("sessions: not found")

	// ErrExists is returned when creating a session whose id is taken.
	ErrExists = errors.New("sessions: already exists")
)

// Persister is the durability hook the store writes through. Implementations
// must be safe for concurrent use; the store never calls them while holding
// a session lock.
type Persister interface {
	SaveSession(ctx context.Context, session *models.Session) error
	LoadSession(ctx context.Context, id string) (*models.Session, error)
	ReplaceEntries(ctx context.Context, sessionID string) error
}

// sessionLock is a refcounted per-session mutex. The refcount lets the lock
// map shed entries for idle sessions without racing in-flight acquisitions.
type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// Store maps session ids to session state with exclusive-access discipline.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session

	locksMu sync.Mutex
	locks   map[string]*sessionLock

	persister Persister
	logger    *observability.Logger
	metrics   *observability.Metrics

	flushCh chan string
	done    chan struct{}
	wg      sync.WaitGroup
}

// New creates a session store. persister may be nil (tests); when set, a
// background flusher drains the writeback queue until Close is called.
func New(persister Persister, logger *observability.Logger, metrics *observability.Metrics) *Store {
	s := &Store{
		sessions:  make(map[string]*models.Session),
		locks:     make(map[string]*sessionLock),
		persister: persister,
		logger:    logger,
		metrics:   metrics,
		flushCh:   make(chan string, 256),
		done:      make(chan struct{}),
	}
	if persister != nil {
		s.wg.Add(1)
		go s.flushLoop()
	}
	return s
}

// Close stops the writeback flusher after draining pending work.
func (s *Store) Close() {
	close(s.done)
	s.wg.Wait()
}

// Create registers a new session and queues its first writeback.
func (s *Store) Create(session *models.Session) error {
	s.mu.Lock()
	if _, ok := s.sessions[session.ID]; ok {
		s.mu.Unlock()
		return ErrExists
	}
	s.sessions[session.ID] = session
	s.mu.Unlock()

	s.enqueueFlush(session.ID)
	return nil
}

// WithSession runs fn with exclusive access to the session. The callback
// must not suspend on external I/O; extract data, return, then perform I/O.
// A successful callback queues an asynchronous writeback.
func (s *Store) WithSession(id string, fn func(*models.Session) error) error {
	release := s.lock(id)
	defer release()

	session, err := s.resident(id)
	if err != nil {
		return err
	}
	if err := fn(session); err != nil {
		return err
	}

	s.enqueueFlush(id)
	return nil
}

// Snapshot returns a deep copy of the session, safe to read without a lock.
func (s *Store) Snapshot(id string) (*models.Session, error) {
	release := s.lock(id)
	defer release()

	session, err := s.resident(id)
	if err != nil {
		return nil, err
	}
	return session.Clone(), nil
}

// TryTransition performs a compare-and-set on the session status. It returns
// false when the session is absent or not in the expected status. Successful
// transitions are counted and queued for writeback.
func (s *Store) TryTransition(id string, from, to models.SessionStatus) bool {
	release := s.lock(id)
	defer release()

	session, err := s.resident(id)
	if err != nil {
		return false
	}
	if session.Status != from {
		return false
	}
	session.Status = to

	if s.metrics != nil {
		s.metrics.StatusTransitions.WithLabelValues(string(from), string(to)).Inc()
	}
	s.enqueueFlush(id)
	return true
}

// RewritePersisted synchronously replaces the persisted entry rows with the
// session's current state. The driver calls this after compaction, which is
// the one mutation that is not append-only. No session lock is held.
func (s *Store) RewritePersisted(ctx context.Context, id string) error {
	if s.persister == nil {
		return nil
	}
	snapshot, err := s.Snapshot(id)
	if err != nil {
		return err
	}
	if err := s.persister.ReplaceEntries(ctx, id); err != nil {
		return err
	}
	return s.persister.SaveSession(ctx, snapshot)
}

// resident returns the in-memory session, faulting it in from the persister
// on miss. Callers hold the session lock.
func (s *Store) resident(id string) (*models.Session, error) {
	s.mu.RLock()
	session, ok := s.sessions[id]
	s.mu.RUnlock()
	if ok {
		return session, nil
	}

	if s.persister != nil {
		loaded, err := s.persister.LoadSession(context.Background(), id)
		switch {
		case err == nil && loaded != nil:
			s.mu.Lock()
			if existing, ok := s.sessions[id]; ok {
				s.mu.Unlock()
				return existing, nil
			}
			s.sessions[id] = loaded
			s.mu.Unlock()
			return loaded, nil
		case err != nil && !errors.Is(err, sql.ErrNoRows) && !errors.Is(err, ErrNotFound):
			// A load failure is not a missing session; surfacing it as
			// ErrNotFound would turn a transient database error into a 404.
			return nil, fmt.Errorf("sessions: load %s: %w", id, err)
		}
	}
	return nil, ErrNotFound
}

// lock acquires the per-session mutex, creating and refcounting the entry.
func (s *Store) lock(id string) func() {
	s.locksMu.Lock()
	l := s.locks[id]
	if l == nil {
		l = &sessionLock{}
		s.locks[id] = l
	}
	l.refs++
	s.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.locksMu.Lock()
		l.refs--
		if l.refs <= 0 {
			delete(s.locks, id)
		}
		s.locksMu.Unlock()
	}
}

// enqueueFlush queues an asynchronous writeback. The queue is bounded; on
// overflow the id is dropped here and picked up by the next mutation, which
// keeps the hot path non-blocking.
func (s *Store) enqueueFlush(id string) {
	if s.persister == nil {
		return
	}
	select {
	case s.flushCh <- id:
	default:
		if s.logger != nil {
			s.logger.Warn(context.Background(), "session writeback queue full", "session_id", id)
		}
	}
}

func (s *Store) flushLoop() {
	defer s.wg.Done()
	for {
		select {
		case id := <-s.flushCh:
			s.flush(id)
		case <-s.done:
			// Drain what is already queued before exiting.
			for {
				select {
				case id := <-s.flushCh:
					s.flush(id)
				default:
					return
				}
			}
		}
	}
}

func (s *Store) flush(id string) {
	snapshot, err := s.Snapshot(id)
	if err != nil {
		return
	}
	if err := s.persister.SaveSession(context.Background(), snapshot); err != nil && s.logger != nil {
		s.logger.Error(context.Background(), "session writeback failed", "session_id", id, "error", err)
	}
}
