package models

import "time"

// CreditAllocation is the balance record for a (user, optional organization)
// pair. Credits are whole units; every chargeable operation costs an integer
// number of them.
type CreditAllocation struct {
	UserID    string `json:"user_id"`
	OrgID     string `json:"org_id,omitempty"`
	Remaining int64  `json:"remaining"`
	Limit     int64  `json:"limit"`

	// Unlimited grants cause reservations to succeed without debiting.
	Unlimited bool `json:"unlimited,omitempty"`
}

// Available returns the spendable balance.
func (c *CreditAllocation) Available() int64 {
	return c.Remaining
}

// CreditOp is the kind of a ledger history record.
type CreditOp string

const (
	CreditOpReserve CreditOp = "reserve"
	CreditOpCommit  CreditOp = "commit"
	CreditOpRefund  CreditOp = "refund"
)

// CreditEvent is one row of the append-only ledger history.
type CreditEvent struct {
	ReservationID string    `json:"reservation_id"`
	UserID        string    `json:"user_id"`
	OrgID         string    `json:"org_id,omitempty"`
	Op            CreditOp  `json:"op"`
	Amount        int64     `json:"amount"`
	ActionType    string    `json:"action_type"`
	EntityID      string    `json:"entity_id"`
	CreatedAt     time.Time `json:"created_at"`
}
