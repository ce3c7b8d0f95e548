package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/propfolio/researchd/pkg/models"
)

// ErrNoAllocation is returned when no credit record exists for the scope.
var ErrNoAllocation = errors.New("storage: no credit allocation")

// CreditAllocation loads the balance record for a (user, org) scope.
// org is empty for user-scoped records.
func (s *Store) CreditAllocation(ctx context.Context, userID, orgID string) (*models.CreditAllocation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, org_id, remaining, credit_limit, unlimited
		FROM credit_allocations WHERE user_id = ? AND org_id = ?`, userID, orgID)

	var alloc models.CreditAllocation
	var unlimited int
	if err := row.Scan(&alloc.UserID, &alloc.OrgID, &alloc.Remaining, &alloc.Limit, &unlimited); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoAllocation
		}
		return nil, fmt.Errorf("storage: load allocation: %w", err)
	}
	alloc.Unlimited = unlimited != 0
	return &alloc, nil
}

// PutCreditAllocation upserts a balance record.
func (s *Store) PutCreditAllocation(ctx context.Context, alloc *models.CreditAllocation) error {
	unlimited := 0
	if alloc.Unlimited {
		unlimited = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credit_allocations (user_id, org_id, remaining, credit_limit, unlimited)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id, org_id) DO UPDATE SET
			remaining = excluded.remaining,
			credit_limit = excluded.credit_limit,
			unlimited = excluded.unlimited`,
		alloc.UserID, alloc.OrgID, alloc.Remaining, alloc.Limit, unlimited)
	if err != nil {
		return fmt.Errorf("storage: put allocation: %w", err)
	}
	return nil
}

// AppendCreditEvent records one reserve/commit/refund row in the append-only
// ledger history.
func (s *Store) AppendCreditEvent(ctx context.Context, ev *models.CreditEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credit_history (reservation_id, user_id, org_id, op, amount, action_type, entity_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ReservationID, ev.UserID, ev.OrgID, string(ev.Op), ev.Amount,
		ev.ActionType, ev.EntityID, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("storage: append credit event: %w", err)
	}
	return nil
}

// CreditEvents returns the ledger history for a reservation, oldest first.
func (s *Store) CreditEvents(ctx context.Context, reservationID string) ([]models.CreditEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT reservation_id, user_id, org_id, op, amount, action_type, entity_id, created_at
		FROM credit_history WHERE reservation_id = ? ORDER BY created_at ASC`, reservationID)
	if err != nil {
		return nil, fmt.Errorf("storage: credit events: %w", err)
	}
	defer rows.Close()

	var events []models.CreditEvent
	for rows.Next() {
		var ev models.CreditEvent
		var op string
		if err := rows.Scan(&ev.ReservationID, &ev.UserID, &ev.OrgID, &op,
			&ev.Amount, &ev.ActionType, &ev.EntityID, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.Op = models.CreditOp(op)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// IsOrgMember reports whether the user is an active member of the org.
func (s *Store) IsOrgMember(ctx context.Context, orgID, userID string) (bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM org_members WHERE org_id = ? AND user_id = ? AND active = 1`,
		orgID, userID)
	var n int
	if err := row.Scan(&n); err != nil {
		return false, fmt.Errorf("storage: org membership: %w", err)
	}
	return n > 0, nil
}

// AddOrgMember inserts or reactivates an org membership row.
func (s *Store) AddOrgMember(ctx context.Context, orgID, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO org_members (org_id, user_id, active) VALUES (?, ?, 1)
		ON CONFLICT (org_id, user_id) DO UPDATE SET active = 1`, orgID, userID)
	if err != nil {
		return fmt.Errorf("storage: add org member: %w", err)
	}
	return nil
}
