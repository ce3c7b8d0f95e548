// Package credits implements the credit ledger: atomic pre-authorization,
// commit, and refund of user- or organization-scoped balances, with an
// append-only history of every operation.
package credits

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/propfolio/researchd/internal/observability"
	"github.com/propfolio/researchd/internal/storage"
	"github.com/propfolio/researchd/pkg/models"
)

var (
	// ErrInsufficient is returned when the balance cannot cover a reservation.
	ErrInsufficient = errors.New("credits: insufficient balance")

	// ErrUnknownReservation is returned for commit/refund of an unknown or
	// already settled reservation.
	ErrUnknownReservation = errors.New("credits: unknown reservation")
)

// Owner identifies the credit scope of an action: the acting user plus an
// optional organization for credit routing.
type Owner struct {
	UserID string
	OrgID  string
}

// reservation is an open pre-authorization awaiting commit or refund.
type reservation struct {
	id         string
	userID     string
	orgID      string // resolved scope, empty for user-scoped
	amount     int64
	actionType string
	entityID   string
	debited    bool // false for unlimited grants
}

// Ledger owns all balance mutations. A single mutex covers the
// check-and-debit critical section, including org membership verification,
// so concurrent reservations can never oversell a balance.
type Ledger struct {
	mu    sync.Mutex
	store *storage.Store
	open  map[string]*reservation

	logger  *observability.Logger
	metrics *observability.Metrics
}

// New creates a ledger backed by the given store.
func New(store *storage.Store, logger *observability.Logger, metrics *observability.Metrics) *Ledger {
	return &Ledger{
		store:   store,
		open:    make(map[string]*reservation),
		logger:  logger,
		metrics: metrics,
	}
}

// Reserve atomically checks and debits the owner's balance, returning a
// reservation id to later Commit or Refund. Zero-amount reservations are
// rejected; callers skip the ledger for free actions.
//
// Scope resolution: the organization's record is used iff an org is supplied
// and the acting user is an active member; otherwise the user's own record.
// Membership is verified inside the same critical section as the balance
// check.
func (l *Ledger) Reserve(ctx context.Context, owner Owner, amount int64, actionType, entityID string) (string, error) {
	if amount <= 0 {
		return "", fmt.Errorf("credits: non-positive amount %d", amount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	orgID := ""
	if owner.OrgID != "" {
		member, err := l.store.IsOrgMember(ctx, owner.OrgID, owner.UserID)
		if err != nil {
			return "", l.fail("reserve", err)
		}
		if member {
			orgID = owner.OrgID
		}
	}

	alloc, err := l.store.CreditAllocation(ctx, scopeUser(owner.UserID, orgID), orgID)
	if err != nil {
		if errors.Is(err, storage.ErrNoAllocation) {
			return "", l.fail("reserve", ErrInsufficient)
		}
		return "", l.fail("reserve", err)
	}

	res := &reservation{
		id:         uuid.NewString(),
		userID:     owner.UserID,
		orgID:      orgID,
		amount:     amount,
		actionType: actionType,
		entityID:   entityID,
	}

	if !alloc.Unlimited {
		if alloc.Remaining < amount {
			return "", l.fail("reserve", ErrInsufficient)
		}
		alloc.Remaining -= amount
		if err := l.store.PutCreditAllocation(ctx, alloc); err != nil {
			return "", l.fail("reserve", err)
		}
		res.debited = true
	}

	if err := l.appendEvent(ctx, res, models.CreditOpReserve); err != nil {
		return "", l.fail("reserve", err)
	}

	l.open[res.id] = res
	l.count("reserve", "success")
	return res.id, nil
}

// Commit finalizes a reservation's debit.
func (l *Ledger) Commit(ctx context.Context, reservationID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	res, ok := l.open[reservationID]
	if !ok {
		return l.fail("commit", ErrUnknownReservation)
	}
	if err := l.appendEvent(ctx, res, models.CreditOpCommit); err != nil {
		return l.fail("commit", err)
	}
	delete(l.open, reservationID)
	l.count("commit", "success")
	return nil
}

// Refund re-credits the reserved amount.
func (l *Ledger) Refund(ctx context.Context, reservationID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	res, ok := l.open[reservationID]
	if !ok {
		return l.fail("refund", ErrUnknownReservation)
	}

	if res.debited {
		alloc, err := l.store.CreditAllocation(ctx, scopeUser(res.userID, res.orgID), res.orgID)
		if err != nil {
			return l.fail("refund", err)
		}
		alloc.Remaining += res.amount
		if err := l.store.PutCreditAllocation(ctx, alloc); err != nil {
			return l.fail("refund", err)
		}
	}
	if err := l.appendEvent(ctx, res, models.CreditOpRefund); err != nil {
		return l.fail("refund", err)
	}
	delete(l.open, reservationID)
	l.count("refund", "success")
	return nil
}

// Balance returns the spendable balance for the owner's resolved scope.
func (l *Ledger) Balance(ctx context.Context, owner Owner) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	orgID := ""
	if owner.OrgID != "" {
		member, err := l.store.IsOrgMember(ctx, owner.OrgID, owner.UserID)
		if err != nil {
			return 0, err
		}
		if member {
			orgID = owner.OrgID
		}
	}
	alloc, err := l.store.CreditAllocation(ctx, scopeUser(owner.UserID, orgID), orgID)
	if err != nil {
		if errors.Is(err, storage.ErrNoAllocation) {
			return 0, nil
		}
		return 0, err
	}
	return alloc.Available(), nil
}

// scopeUser returns the user column value for a scope. Org-scoped records
// are keyed by the org with an empty user discriminator kept by convention
// as the org id itself, so user and org rows never collide.
func scopeUser(userID, orgID string) string {
	if orgID != "" {
		return orgID
	}
	return userID
}

func (l *Ledger) appendEvent(ctx context.Context, res *reservation, op models.CreditOp) error {
	return l.store.AppendCreditEvent(ctx, &models.CreditEvent{
		ReservationID: res.id,
		UserID:        res.userID,
		OrgID:         res.orgID,
		Op:            op,
		Amount:        res.amount,
		ActionType:    res.actionType,
		EntityID:      res.entityID,
		CreatedAt:     time.Now().UTC(),
	})
}

func (l *Ledger) fail(op string, err error) error {
	l.count(op, "error")
	return err
}

func (l *Ledger) count(op, status string) {
	if l.metrics != nil {
		l.metrics.CreditOps.WithLabelValues(op, status).Inc()
	}
}
