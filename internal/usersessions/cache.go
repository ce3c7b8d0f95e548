// Package usersessions tracks per-user login sessions with a hybrid
// discipline: a hot in-memory map serving every request, lazy asynchronous
// writeback to the persistent store, and a background sweeper that expires
// idle sessions in both layers.
package usersessions

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/propfolio/researchd/internal/observability"
	"github.com/propfolio/researchd/internal/storage"
	"github.com/propfolio/researchd/pkg/models"
)

// Store is the persistence surface the cache writes through.
type Store interface {
	ActiveUserSession(ctx context.Context, userID string) (*models.UserSession, error)
	SupersedeUserSession(ctx context.Context, us *models.UserSession) error
	TouchUserSession(ctx context.Context, userID, token string, lastActivity time.Time) error
	DeactivateUserSession(ctx context.Context, userID, token string) error
	DeactivateIdleUserSessions(ctx context.Context, cutoff time.Time) (int64, error)
}

// touchRecord is one pending last-activity writeback.
type touchRecord struct {
	userID       string
	token        string
	lastActivity time.Time
}

// Cache is the hybrid user-session cache. At most one active session exists
// per user; creation always consults the store first and supersedes any
// existing active row in a single transaction, so the guarantee holds across
// processes.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*models.UserSession

	store       Store
	idleTimeout time.Duration
	logger      *observability.Logger
	now         func() time.Time

	writebacks chan touchRecord
	done       chan struct{}
	wg         sync.WaitGroup
}

// New creates the cache and starts its writeback worker and sweeper.
func New(store Store, idleTimeout time.Duration, logger *observability.Logger) *Cache {
	c := &Cache{
		entries:     make(map[string]*models.UserSession),
		store:       store,
		idleTimeout: idleTimeout,
		logger:      logger,
		now:         time.Now,
		writebacks:  make(chan touchRecord, 256),
		done:        make(chan struct{}),
	}
	c.wg.Add(2)
	go c.writebackLoop()
	go c.sweepLoop()
	return c
}

// Close stops the background workers after draining pending writebacks.
func (c *Cache) Close() {
	close(c.done)
	c.wg.Wait()
}

// Touch records user activity and returns the user's active session,
// creating one if none exists or the current one has idle-expired. The
// in-memory entry is updated immediately; persistence happens asynchronously.
func (c *Cache) Touch(ctx context.Context, userID string) (*models.UserSession, error) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if us, ok := c.entries[userID]; ok {
		if us.IdleFor(now) < c.idleTimeout {
			us.LastActivity = now
			c.enqueue(touchRecord{userID: userID, token: us.SessionToken, lastActivity: now})
			copy := *us
			return &copy, nil
		}
		// Expired in memory. Retire it and fall through to create a fresh one.
		delete(c.entries, userID)
	}

	// Cache miss: the store is the cross-process authority.
	existing, err := c.store.ActiveUserSession(ctx, userID)
	switch {
	case err == nil && existing.IdleFor(now) < c.idleTimeout:
		existing.LastActivity = now
		c.entries[userID] = existing
		c.enqueue(touchRecord{userID: userID, token: existing.SessionToken, lastActivity: now})
		copy := *existing
		return &copy, nil
	case err != nil && !errors.Is(err, storage.ErrNoActiveUserSession):
		return nil, err
	}

	fresh := &models.UserSession{
		UserID:       userID,
		SessionToken: uuid.NewString(),
		StartedAt:    now,
		LastActivity: now,
		Active:       true,
	}
	// Supersede atomically deactivates any stale active row and inserts the
	// new one in a single transaction.
	if err := c.store.SupersedeUserSession(ctx, fresh); err != nil {
		return nil, err
	}
	c.entries[userID] = fresh
	copy := *fresh
	return &copy, nil
}

// Logout retires the user's session in both layers.
func (c *Cache) Logout(ctx context.Context, userID string) error {
	c.mu.Lock()
	us, ok := c.entries[userID]
	if ok {
		delete(c.entries, userID)
	}
	c.mu.Unlock()

	if ok {
		return c.store.DeactivateUserSession(ctx, userID, us.SessionToken)
	}
	existing, err := c.store.ActiveUserSession(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNoActiveUserSession) {
			return nil
		}
		return err
	}
	return c.store.DeactivateUserSession(ctx, userID, existing.SessionToken)
}

// Resident reports whether the user currently has an in-memory entry.
// Intended for tests and introspection.
func (c *Cache) Resident(userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[userID]
	return ok
}

// Sweep runs one sweeper pass: near-expiry entries get a proactive
// writeback, entries past 1.2x the idle timeout leave memory, and
// idle-expired rows are marked inactive in the store.
func (c *Cache) Sweep(ctx context.Context) {
	now := c.now()
	cleanupAfter := time.Duration(float64(c.idleTimeout) * 1.2)
	nearExpiryAfter := time.Duration(float64(c.idleTimeout) * 0.8)

	c.mu.Lock()
	for userID, us := range c.entries {
		idle := us.IdleFor(now)
		switch {
		case idle >= cleanupAfter:
			delete(c.entries, userID)
		case idle >= nearExpiryAfter:
			c.enqueue(touchRecord{userID: userID, token: us.SessionToken, lastActivity: us.LastActivity})
		}
	}
	c.mu.Unlock()

	if n, err := c.store.DeactivateIdleUserSessions(ctx, now.Add(-c.idleTimeout)); err != nil {
		if c.logger != nil {
			c.logger.Error(ctx, "user session sweep failed", "error", err)
		}
	} else if n > 0 && c.logger != nil {
		c.logger.Info(ctx, "expired idle user sessions", "count", n)
	}
}

// enqueue adds a pending writeback; the caller holds c.mu. The queue is
// bounded and lossy, the sweeper and the next touch will retry.
func (c *Cache) enqueue(rec touchRecord) {
	select {
	case c.writebacks <- rec:
	default:
	}
}

func (c *Cache) writebackLoop() {
	defer c.wg.Done()
	for {
		select {
		case rec := <-c.writebacks:
			c.flush(rec)
		case <-c.done:
			for {
				select {
				case rec := <-c.writebacks:
					c.flush(rec)
				default:
					return
				}
			}
		}
	}
}

func (c *Cache) flush(rec touchRecord) {
	err := c.store.TouchUserSession(context.Background(), rec.userID, rec.token, rec.lastActivity)
	if err != nil && c.logger != nil {
		c.logger.Error(context.Background(), "user session writeback failed",
			"user_id", rec.userID, "error", err)
	}
}

func (c *Cache) sweepLoop() {
	defer c.wg.Done()
	interval := c.idleTimeout / 6
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.Sweep(context.Background())
		case <-c.done:
			return
		}
	}
}
