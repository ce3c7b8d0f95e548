package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/propfolio/researchd/pkg/models"
)

// SaveSession upserts the session row and writes any history and context
// entries not yet persisted. Entries are keyed by position, so re-saving an
// unchanged prefix is idempotent and compaction rewrites are explicit
// (ReplaceEntries).
func (s *Store) SaveSession(ctx context.Context, session *models.Session) error {
	configJSON, err := json.Marshal(session.Config)
	if err != nil {
		return fmt.Errorf("storage: marshal config: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (id, owner_id, org_id, status, config, research_goal, created_at, last_activity_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			research_goal = excluded.research_goal,
			last_activity_at = excluded.last_activity_at`,
		session.ID, session.OwnerID, session.OrgID, string(session.Status),
		string(configJSON), session.ResearchGoal, session.CreatedAt, session.LastActivityAt,
	)
	if err != nil {
		return fmt.Errorf("storage: upsert session: %w", err)
	}

	if err := writeEntries(ctx, tx, "conversation_entries", session.ID, len(session.History), func(i int) (string, any) {
		return session.History[i].ID, session.History[i]
	}); err != nil {
		return err
	}
	if err := writeEntries(ctx, tx, "context_entries", session.ID, len(session.Context), func(i int) (string, any) {
		return session.Context[i].ID, session.Context[i]
	}); err != nil {
		return err
	}

	return tx.Commit()
}

// ReplaceEntries deletes persisted history and context rows for the session
// so the next SaveSession writes the post-compaction state.
func (s *Store) ReplaceEntries(ctx context.Context, sessionID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"conversation_entries", "context_entries"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE session_id = ?`, sessionID); err != nil {
			return fmt.Errorf("storage: clear %s: %w", table, err)
		}
	}
	return tx.Commit()
}

func writeEntries(ctx context.Context, tx *sql.Tx, table, sessionID string, n int, at func(int) (string, any)) error {
	for i := 0; i < n; i++ {
		id, entry := at(i)
		payload, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("storage: marshal entry: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO `+table+` (session_id, position, entry_id, payload)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (session_id, position) DO UPDATE SET
				entry_id = excluded.entry_id,
				payload = excluded.payload`,
			sessionID, i, id, string(payload),
		)
		if err != nil {
			return fmt.Errorf("storage: write %s: %w", table, err)
		}
	}
	return nil
}

// LoadSession reconstructs a session with its full history and context.
// Returns sql.ErrNoRows when the session does not exist.
func (s *Store) LoadSession(ctx context.Context, id string) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, org_id, status, config, research_goal, created_at, last_activity_at
		FROM sessions WHERE id = ?`, id)

	var session models.Session
	var status, configJSON string
	if err := row.Scan(&session.ID, &session.OwnerID, &session.OrgID, &status,
		&configJSON, &session.ResearchGoal, &session.CreatedAt, &session.LastActivityAt); err != nil {
		return nil, err
	}
	session.Status = models.SessionStatus(status)
	if err := json.Unmarshal([]byte(configJSON), &session.Config); err != nil {
		return nil, fmt.Errorf("storage: unmarshal config: %w", err)
	}

	if err := s.loadEntries(ctx, "conversation_entries", id, func(payload []byte) error {
		var e models.ConversationEntry
		if err := json.Unmarshal(payload, &e); err != nil {
			return err
		}
		session.History = append(session.History, e)
		return nil
	}); err != nil {
		return nil, err
	}
	if err := s.loadEntries(ctx, "context_entries", id, func(payload []byte) error {
		var e models.ContextEntry
		if err := json.Unmarshal(payload, &e); err != nil {
			return err
		}
		session.Context = append(session.Context, e)
		return nil
	}); err != nil {
		return nil, err
	}

	return &session, nil
}

func (s *Store) loadEntries(ctx context.Context, table, sessionID string, add func([]byte) error) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM `+table+` WHERE session_id = ? ORDER BY position ASC`, sessionID)
	if err != nil {
		return fmt.Errorf("storage: load %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return err
		}
		if err := add(payload); err != nil {
			return fmt.Errorf("storage: decode %s: %w", table, err)
		}
	}
	return rows.Err()
}

// SessionIDsByStatus returns the ids of persisted sessions in the given
// status. The supervisor uses this at startup to reconcile sessions left
// Running by a crash.
func (s *Store) SessionIDsByStatus(ctx context.Context, status models.SessionStatus) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM sessions WHERE status = ?`, string(status))
	if err != nil {
		return nil, fmt.Errorf("storage: list by status: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
