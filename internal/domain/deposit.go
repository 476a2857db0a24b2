package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type DepositStatus string

const (
	DepositStatusPending   DepositStatus = "pending_confirmation"
	DepositStatusConfirmed DepositStatus = "confirmed"
	DepositStatusRejected  DepositStatus = "rejected"
)

// DepositRecord tracks an on-chain transfer claimed by an account. A tx hash
// is credited at most once.
type DepositRecord struct {
	TxHash        string
	AccountID     string
	Amount        decimal.Decimal
	Denom         string
	Status        DepositStatus
	Confirmations int64
	Required      int64
	Reason        string
	BalanceAfter  decimal.Decimal
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// IsFinal reports whether the record can no longer change.
func (d *DepositRecord) IsFinal() bool {
	return d.Status == DepositStatusConfirmed || d.Status == DepositStatusRejected
}

// Progress renders confirmations as "seen/required".
func (d *DepositRecord) Progress() string {
	return fmt.Sprintf("%d/%d", d.Confirmations, d.Required)
}

// RejectionError returns the sentinel error recorded for a rejected deposit.
func (d *DepositRecord) RejectionError() error {
	for _, err := range intrinsicRejections {
		if err.Error() == d.Reason {
			return err
		}
	}
	return ErrTxFailed
}

// Rejections that depend only on the transaction itself, not on who claims it.
// Only these are persisted, so a wrong claim cannot block the rightful owner.
var intrinsicRejections = []error{
	ErrTxFailed,
	ErrNoTransferEvent,
	ErrRecipientMismatch,
}

// IsIntrinsicRejection reports whether err permanently disqualifies a tx.
func IsIntrinsicRejection(err error) bool {
	for _, target := range intrinsicRejections {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
