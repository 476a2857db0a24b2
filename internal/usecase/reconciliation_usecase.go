package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iho/transactai/internal/domain"
	"github.com/iho/transactai/internal/infrastructure/metrics"
)

// ReconciliationUseCase checks that the ledger still adds up.
type ReconciliationUseCase struct {
	ledgerRepo LedgerRepository
	metrics    *metrics.Metrics
}

// NewReconciliationUseCase creates a new reconciliation use case
func NewReconciliationUseCase(ledgerRepo LedgerRepository, metrics *metrics.Metrics) *ReconciliationUseCase {
	return &ReconciliationUseCase{
		ledgerRepo: ledgerRepo,
		metrics:    metrics,
	}
}

// ReconciliationReport represents a ledger consistency report
type ReconciliationReport struct {
	Totals     domain.LedgerTotals
	Difference decimal.Decimal
	Consistent bool
	CheckedAt  time.Time
}

// GenerateReport compares liabilities (balances plus held escrow) with the
// net on-chain backing (confirmed deposits minus withdrawals).
func (uc *ReconciliationUseCase) GenerateReport(ctx context.Context) (*ReconciliationReport, error) {
	totals, err := uc.ledgerRepo.Totals(ctx)
	if err != nil {
		return nil, err
	}

	diff := totals.Liabilities().Sub(totals.Backing())

	if uc.metrics != nil {
		uc.metrics.LedgerImbalance.Set(diff.InexactFloat64())
	}

	return &ReconciliationReport{
		Totals:     *totals,
		Difference: diff,
		Consistent: diff.IsZero(),
		CheckedAt:  time.Now().UTC(),
	}, nil
}

// CheckLedgerConsistency returns an error describing any imbalance.
func (uc *ReconciliationUseCase) CheckLedgerConsistency(ctx context.Context) error {
	report, err := uc.GenerateReport(ctx)
	if err != nil {
		return err
	}

	if !report.Consistent {
		return fmt.Errorf(
			"ledger inconsistency detected: liabilities=%s backing=%s difference=%s",
			report.Totals.Liabilities().String(),
			report.Totals.Backing().String(),
			report.Difference.String(),
		)
	}

	return nil
}
