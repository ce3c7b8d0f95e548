package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/propfolio/researchd/pkg/models"
)

// ErrNoActiveUserSession is returned when a user has no active session row.
var ErrNoActiveUserSession = errors.New("storage: no active user session")

// ActiveUserSession returns the single active session row for the user.
func (s *Store) ActiveUserSession(ctx context.Context, userID string) (*models.UserSession, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, session_token, started_at, last_activity, active
		FROM user_sessions WHERE user_id = ? AND active = 1
		ORDER BY last_activity DESC LIMIT 1`, userID)

	var us models.UserSession
	var active int
	if err := row.Scan(&us.UserID, &us.SessionToken, &us.StartedAt, &us.LastActivity, &active); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoActiveUserSession
		}
		return nil, fmt.Errorf("storage: active user session: %w", err)
	}
	us.Active = active != 0
	return &us, nil
}

// SupersedeUserSession atomically marks every active row for the user
// inactive and inserts the new session. This is the cross-process
// uniqueness guarantee: one transaction, one active row.
func (s *Store) SupersedeUserSession(ctx context.Context, us *models.UserSession) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE user_sessions SET active = 0 WHERE user_id = ? AND active = 1`, us.UserID); err != nil {
		return fmt.Errorf("storage: deactivate user sessions: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO user_sessions (user_id, session_token, started_at, last_activity, active)
		VALUES (?, ?, ?, ?, 1)`,
		us.UserID, us.SessionToken, us.StartedAt, us.LastActivity); err != nil {
		return fmt.Errorf("storage: insert user session: %w", err)
	}
	return tx.Commit()
}

// TouchUserSession persists a new last-activity time for the session row.
func (s *Store) TouchUserSession(ctx context.Context, userID, token string, lastActivity time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE user_sessions SET last_activity = ?
		WHERE user_id = ? AND session_token = ?`, lastActivity, userID, token)
	if err != nil {
		return fmt.Errorf("storage: touch user session: %w", err)
	}
	return nil
}

// DeactivateUserSession marks one session row inactive (logout or expiry).
func (s *Store) DeactivateUserSession(ctx context.Context, userID, token string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE user_sessions SET active = 0
		WHERE user_id = ? AND session_token = ?`, userID, token)
	if err != nil {
		return fmt.Errorf("storage: deactivate user session: %w", err)
	}
	return nil
}

// DeactivateIdleUserSessions marks inactive every active row whose
// last_activity is older than cutoff. Returns the number of rows changed.
func (s *Store) DeactivateIdleUserSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE user_sessions SET active = 0
		WHERE active = 1 AND last_activity < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("storage: deactivate idle: %w", err)
	}
	return res.RowsAffected()
}
