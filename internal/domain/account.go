package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account is an agent's off-chain balance, identified by the agent address.
type Account struct {
	ID            string
	Balance       decimal.Decimal
	WalletAddress string
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewAccount returns a zero-balance account.
func NewAccount(id string, now time.Time) *Account {
	return &Account{
		ID:        id,
		Balance:   decimal.Zero,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ValidateDebit checks that the balance covers amount.
func (a *Account) ValidateDebit(amount decimal.Decimal) error {
	if amount.GreaterThan(a.Balance) {
		return ErrInsufficientFunds
	}
	return nil
}

// ApplyDebit returns new balance after debit.
func (a *Account) ApplyDebit(amount decimal.Decimal) decimal.Decimal {
	return a.Balance.Sub(amount)
}

// ApplyCredit returns new balance after credit.
func (a *Account) ApplyCredit(amount decimal.Decimal) decimal.Decimal {
	return a.Balance.Add(amount)
}

// ValidateLink reports whether wallet may be bound to the account.
// Re-linking the wallet that is already bound is allowed.
func (a *Account) ValidateLink(wallet string) error {
	if a.WalletAddress != "" && a.WalletAddress != wallet {
		return ErrAlreadyLinked
	}
	return nil
}

// HasWallet reports whether a wallet is bound.
func (a *Account) HasWallet() bool {
	return a.WalletAddress != ""
}
