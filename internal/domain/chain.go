package domain

import (
	"github.com/shopspring/decimal"
)

// ChainTransfer is a single coin movement inside an on-chain transaction.
type ChainTransfer struct {
	Sender    string
	Recipient string
	Amount    decimal.Decimal
	Denom     string
}

// ChainTransaction is the subset of an on-chain transaction needed to
// reconcile deposits.
type ChainTransaction struct {
	Hash      string
	Height    int64
	Code      uint32
	Transfers []ChainTransfer
}

// Succeeded reports whether the transaction executed without error.
func (t *ChainTransaction) Succeeded() bool {
	return t.Code == 0
}

// Confirmations returns how many blocks include or follow the transaction.
func (t *ChainTransaction) Confirmations(latestHeight int64) int64 {
	if t.Height <= 0 || latestHeight < t.Height {
		return 0
	}
	return latestHeight - t.Height + 1
}

// DepositClaim is what an account asserts about a transaction it sent.
type DepositClaim struct {
	PlatformWallet string
	SenderWallet   string
	Amount         decimal.Decimal
	Denom          string
}

// MatchDeposit finds the transfer backing claim. Checks narrow in a fixed
// order so the reported mismatch is the first one that rules every transfer out.
func (t *ChainTransaction) MatchDeposit(claim DepositClaim) (*ChainTransfer, error) {
	if !t.Succeeded() {
		return nil, ErrTxFailed
	}
	if len(t.Transfers) == 0 {
		return nil, ErrNoTransferEvent
	}

	candidates := filterTransfers(t.Transfers, func(tr ChainTransfer) bool {
		return tr.Recipient == claim.PlatformWallet
	})
	if len(candidates) == 0 {
		return nil, ErrRecipientMismatch
	}

	candidates = filterTransfers(candidates, func(tr ChainTransfer) bool {
		return tr.Sender == claim.SenderWallet
	})
	if len(candidates) == 0 {
		return nil, ErrSenderMismatch
	}

	candidates = filterTransfers(candidates, func(tr ChainTransfer) bool {
		return tr.Denom == claim.Denom
	})
	if len(candidates) == 0 {
		return nil, ErrDenomMismatch
	}

	candidates = filterTransfers(candidates, func(tr ChainTransfer) bool {
		return tr.Amount.Equal(claim.Amount)
	})
	if len(candidates) == 0 {
		return nil, ErrAmountMismatch
	}

	match := candidates[0]
	return &match, nil
}

func filterTransfers(in []ChainTransfer, keep func(ChainTransfer) bool) []ChainTransfer {
	out := make([]ChainTransfer, 0, len(in))
	for _, tr := range in {
		if keep(tr) {
			out = append(out, tr)
		}
	}
	return out
}
