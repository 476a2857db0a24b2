package domain

import (
	"github.com/shopspring/decimal"
)

// PendingWithdrawal lives only while the payout is in flight.
type PendingWithdrawal struct {
	AccountID   string
	Amount      decimal.Decimal
	Destination string
	Denom       string
}

// LedgerTotals aggregates the ledger for conservation checks.
type LedgerTotals struct {
	Balances          decimal.Decimal
	HeldEscrow        decimal.Decimal
	ConfirmedDeposits decimal.Decimal
	Withdrawn         decimal.Decimal
}

// Liabilities is everything the platform owes its accounts.
func (t LedgerTotals) Liabilities() decimal.Decimal {
	return t.Balances.Add(t.HeldEscrow)
}

// Backing is the net value that entered the platform on chain.
func (t LedgerTotals) Backing() decimal.Decimal {
	return t.ConfirmedDeposits.Sub(t.Withdrawn)
}

// Balanced reports whether liabilities equal backing.
func (t LedgerTotals) Balanced() bool {
	return t.Liabilities().Equal(t.Backing())
}
