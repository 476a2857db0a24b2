package handler

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/iho/transactai/internal/adapter/http/dto"
	"github.com/iho/transactai/internal/domain"
	"github.com/iho/transactai/internal/usecase"
)

// Reconciler produces ledger consistency reports.
type Reconciler interface {
	GenerateReport(ctx context.Context) (*usecase.ReconciliationReport, error)
}

// AccountLister pages through accounts.
type AccountLister interface {
	ListAccounts(ctx context.Context, limit, offset int) ([]*domain.Account, error)
}

// LedgerHandler serves operator views of the ledger.
type LedgerHandler struct {
	recon    Reconciler
	accounts AccountLister
	logger   zerolog.Logger
}

// NewLedgerHandler creates a new LedgerHandler.
func NewLedgerHandler(recon Reconciler, accounts AccountLister, logger zerolog.Logger) *LedgerHandler {
	return &LedgerHandler{recon: recon, accounts: accounts, logger: logger}
}

// Consistency handles GET /ledger/consistency. An imbalance is reported with
// 409 so probes can alert on the status code alone.
func (h *LedgerHandler) Consistency(w http.ResponseWriter, r *http.Request) {
	report, err := h.recon.GenerateReport(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("consistency check failed")
		writeError(w, http.StatusInternalServerError, "consistency check failed", "")
		return
	}

	status := http.StatusOK
	if !report.Consistent {
		h.logger.Error().Str("difference", report.Difference.String()).Msg("ledger imbalance detected")
		status = http.StatusConflict
	}
	writeJSON(w, status, dto.ConsistencyFromReport(report))
}

// ListAccounts handles GET /ledger/accounts.
func (h *LedgerHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", 50)
	offset := parseIntQuery(r, "offset", 0)

	accounts, err := h.accounts.ListAccounts(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error().Err(err).Msg("list accounts failed")
		writeError(w, http.StatusInternalServerError, "list accounts failed", "")
		return
	}
	writeJSON(w, http.StatusOK, dto.AccountsFromDomain(accounts))
}
