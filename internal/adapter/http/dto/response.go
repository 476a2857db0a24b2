package dto

import (
	"time"

	"github.com/iho/transactai/internal/domain"
	"github.com/iho/transactai/internal/usecase"
)

// ErrorResponse represents an error in API responses.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// HealthResponse reports liveness or readiness.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// ConsistencyResponse represents a ledger consistency report.
type ConsistencyResponse struct {
	Consistent        bool      `json:"consistent"`
	Balances          string    `json:"balances"`
	HeldEscrow        string    `json:"held_escrow"`
	ConfirmedDeposits string    `json:"confirmed_deposits"`
	Withdrawn         string    `json:"withdrawn"`
	Difference        string    `json:"difference"`
	CheckedAt         time.Time `json:"checked_at"`
}

// ConsistencyFromReport converts a reconciliation report to a response.
func ConsistencyFromReport(r *usecase.ReconciliationReport) *ConsistencyResponse {
	return &ConsistencyResponse{
		Consistent:        r.Consistent,
		Balances:          domain.FormatAmount(r.Totals.Balances),
		HeldEscrow:        domain.FormatAmount(r.Totals.HeldEscrow),
		ConfirmedDeposits: domain.FormatAmount(r.Totals.ConfirmedDeposits),
		Withdrawn:         domain.FormatAmount(r.Totals.Withdrawn),
		Difference:        r.Difference.String(),
		CheckedAt:         r.CheckedAt,
	}
}

// ChainTransferResponse describes a transaction added to the simulated chain.
type ChainTransferResponse struct {
	TxHash string `json:"tx_hash"`
	Height int64  `json:"height"`
}

// ChainHeightResponse reports the simulated chain height.
type ChainHeightResponse struct {
	Height int64 `json:"height"`
}

// AccountResponse represents an account in API responses.
type AccountResponse struct {
	ID            string    `json:"id"`
	Balance       string    `json:"balance"`
	WalletAddress string    `json:"wallet_address,omitempty"`
	Version       int64     `json:"version"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// AccountsFromDomain converts domain accounts to responses.
func AccountsFromDomain(accounts []*domain.Account) []*AccountResponse {
	result := make([]*AccountResponse, len(accounts))
	for i, a := range accounts {
		result[i] = &AccountResponse{
			ID:            a.ID,
			Balance:       domain.FormatAmount(a.Balance),
			WalletAddress: a.WalletAddress,
			Version:       a.Version,
			CreatedAt:     a.CreatedAt,
			UpdatedAt:     a.UpdatedAt,
		}
	}
	return result
}
