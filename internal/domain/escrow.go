package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type EscrowState string

const (
	EscrowStateHeld     EscrowState = "held"
	EscrowStateReleased EscrowState = "released"
	EscrowStateRefunded EscrowState = "refunded"
)

// Escrow is a conditional hold of funds taken from Sender. Exactly one of
// Released (credit to Recipient) or Refunded (credit back to Sender) is
// ever reached.
type Escrow struct {
	ID        string
	Sender    string
	Recipient string
	Amount    decimal.Decimal
	Reference string
	State     EscrowState
	CreatedAt time.Time
	ExpiresAt time.Time
	SettledAt *time.Time
}

// Validate checks if escrow is valid.
func (e *Escrow) Validate() error {
	if !e.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if e.Sender == e.Recipient {
		return ErrSameAccount
	}
	if !e.ExpiresAt.After(e.CreatedAt) {
		return ErrInvalidExpiration
	}
	return nil
}

// IsExpired reports whether the escrow is due for refund at now.
func (e *Escrow) IsExpired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Payee returns the account credited when the escrow settles into state.
func (e *Escrow) Payee(state EscrowState) string {
	if state == EscrowStateReleased {
		return e.Recipient
	}
	return e.Sender
}

// Settle moves a held escrow into a terminal state.
func (e *Escrow) Settle(state EscrowState, now time.Time) error {
	if e.State != EscrowStateHeld {
		return ErrInvalidEscrowState
	}
	if state != EscrowStateReleased && state != EscrowStateRefunded {
		return ErrInvalidEscrowState
	}
	e.State = state
	e.SettledAt = &now
	return nil
}
