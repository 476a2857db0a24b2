package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/iho/transactai/internal/domain"
	"github.com/iho/transactai/internal/usecase"
)

// LedgerRepository implements usecase.LedgerRepository.
type LedgerRepository struct {
	db DBTX
}

// NewLedgerRepository creates a new LedgerRepository.
func NewLedgerRepository(db DBTX) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// Totals sums the ledger in a single statement so every figure comes from
// one snapshot.
func (r *LedgerRepository) Totals(ctx context.Context) (*domain.LedgerTotals, error) {
	var balances, held, deposits, withdrawn pgtype.Numeric
	err := r.db.QueryRow(ctx, `
		SELECT
			(SELECT COALESCE(SUM(balance), 0) FROM accounts),
			(SELECT COALESCE(SUM(amount), 0) FROM escrows WHERE state = 'held'),
			(SELECT COALESCE(SUM(amount), 0) FROM deposit_records WHERE status = 'confirmed'),
			(SELECT COALESCE(MAX(withdrawn), 0) FROM ledger_stats)`,
	).Scan(&balances, &held, &deposits, &withdrawn)
	if err != nil {
		return nil, fmt.Errorf("ledger totals: %w", err)
	}

	return &domain.LedgerTotals{
		Balances:          numericToDecimal(balances),
		HeldEscrow:        numericToDecimal(held),
		ConfirmedDeposits: numericToDecimal(deposits),
		Withdrawn:         numericToDecimal(withdrawn),
	}, nil
}

// AddWithdrawn adjusts the withdrawn total. The stats row is locked last,
// after any account row.
func (r *LedgerRepository) AddWithdrawn(ctx context.Context, tx usecase.Transaction, delta decimal.Decimal) error {
	conn, err := txConn(tx)
	if err != nil {
		return err
	}

	_, err = conn.Exec(ctx, `
		INSERT INTO ledger_stats (id, withdrawn) VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET withdrawn = ledger_stats.withdrawn + EXCLUDED.withdrawn`,
		decimalToNumeric(delta))
	if err != nil {
		return fmt.Errorf("add withdrawn: %w", err)
	}
	return nil
}
