package dto

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/iho/transactai/internal/domain"
)

// ChainTransferRequest asks the simulated chain to include a transfer to the
// platform wallet.
type ChainTransferRequest struct {
	TxHash string `json:"tx_hash"`
	Sender string `json:"sender"`
	Amount string `json:"amount"`
	Denom  string `json:"denom"`
}

// Validate checks the request and returns the parsed amount.
func (r *ChainTransferRequest) Validate() (decimal.Decimal, error) {
	if err := domain.ValidateTxHash(r.TxHash); err != nil {
		return decimal.Zero, err
	}
	if err := domain.ValidateWalletAddress(r.Sender); err != nil {
		return decimal.Zero, err
	}
	if err := domain.ValidateDenom(r.Denom); err != nil {
		return decimal.Zero, err
	}
	amount, err := domain.ParseAmount(r.Amount)
	if err != nil {
		return decimal.Zero, fmt.Errorf("amount: %w", err)
	}
	return amount, nil
}

// MineRequest advances the simulated chain.
type MineRequest struct {
	Blocks int64 `json:"blocks"`
}
