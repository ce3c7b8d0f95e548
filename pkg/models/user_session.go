package models

import "time"

// UserSession is a login-scope record with an idle timeout, distinct from a
// research Session. At most one active UserSession exists per user.
type UserSession struct {
	UserID       string    `json:"user_id"`
	SessionToken string    `json:"session_token"`
	StartedAt    time.Time `json:"started_at"`
	LastActivity time.Time `json:"last_activity"`
	Active       bool      `json:"active"`
}

// IdleFor returns how long the session has been inactive as of now.
func (u *UserSession) IdleFor(now time.Time) time.Duration {
	return now.Sub(u.LastActivity)
}
