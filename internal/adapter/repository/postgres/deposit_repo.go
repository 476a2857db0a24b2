package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/iho/transactai/internal/domain"
	"github.com/iho/transactai/internal/usecase"
)

const depositColumns = `tx_hash, account_id, amount, denom, status, confirmations, required, reason, balance_after, created_at, updated_at`

// DepositRepository implements usecase.DepositRepository.
type DepositRepository struct {
	db DBTX
}

// NewDepositRepository creates a new DepositRepository.
func NewDepositRepository(db DBTX) *DepositRepository {
	return &DepositRepository{db: db}
}

// GetByTxHash retrieves a deposit record.
func (r *DepositRepository) GetByTxHash(ctx context.Context, txHash string) (*domain.DepositRecord, error) {
	row := r.db.QueryRow(ctx, `SELECT `+depositColumns+` FROM deposit_records WHERE tx_hash = $1`, txHash)
	return scanDeposit(row)
}

// GetByTxHashForUpdate takes a transaction-scoped advisory lock on the hash,
// so claims for a hash with no record yet still serialize, then reads the
// record with a row lock.
func (r *DepositRepository) GetByTxHashForUpdate(ctx context.Context, tx usecase.Transaction, txHash string) (*domain.DepositRecord, error) {
	conn, err := txConn(tx)
	if err != nil {
		return nil, err
	}

	if _, err := conn.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, txHash); err != nil {
		return nil, fmt.Errorf("lock tx hash: %w", err)
	}

	row := conn.QueryRow(ctx, `SELECT `+depositColumns+` FROM deposit_records WHERE tx_hash = $1 FOR UPDATE`, txHash)
	return scanDeposit(row)
}

// Upsert inserts or replaces the record for record.TxHash.
func (r *DepositRepository) Upsert(ctx context.Context, tx usecase.Transaction, record *domain.DepositRecord) error {
	conn, err := txConn(tx)
	if err != nil {
		return err
	}

	_, err = conn.Exec(ctx, `
		INSERT INTO deposit_records (`+depositColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (tx_hash) DO UPDATE SET
			account_id    = EXCLUDED.account_id,
			amount        = EXCLUDED.amount,
			denom         = EXCLUDED.denom,
			status        = EXCLUDED.status,
			confirmations = EXCLUDED.confirmations,
			required      = EXCLUDED.required,
			reason        = EXCLUDED.reason,
			balance_after = EXCLUDED.balance_after,
			updated_at    = EXCLUDED.updated_at`,
		record.TxHash,
		record.AccountID,
		decimalToNumeric(record.Amount),
		record.Denom,
		string(record.Status),
		record.Confirmations,
		record.Required,
		record.Reason,
		decimalToNumeric(record.BalanceAfter),
		timeToPgTimestamptz(record.CreatedAt),
		timeToPgTimestamptz(record.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert deposit: %w", err)
	}
	return nil
}

// ListPending lists records awaiting confirmations, oldest first.
func (r *DepositRepository) ListPending(ctx context.Context, limit int) ([]*domain.DepositRecord, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+depositColumns+` FROM deposit_records
		WHERE status = 'pending_confirmation'
		ORDER BY created_at, tx_hash
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending deposits: %w", err)
	}
	defer rows.Close()

	var records []*domain.DepositRecord
	for rows.Next() {
		rec, err := scanDeposit(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanDeposit(row scanner) (*domain.DepositRecord, error) {
	var (
		rec          domain.DepositRecord
		amount       pgtype.Numeric
		balanceAfter pgtype.Numeric
		status       string
		createdAt    pgtype.Timestamptz
		updatedAt    pgtype.Timestamptz
	)
	err := row.Scan(&rec.TxHash, &rec.AccountID, &amount, &rec.Denom, &status,
		&rec.Confirmations, &rec.Required, &rec.Reason, &balanceAfter, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrDepositNotFound
		}
		return nil, fmt.Errorf("scan deposit: %w", err)
	}
	rec.Amount = numericToDecimal(amount)
	rec.BalanceAfter = numericToDecimal(balanceAfter)
	rec.Status = domain.DepositStatus(status)
	rec.CreatedAt = createdAt.Time.UTC()
	rec.UpdatedAt = updatedAt.Time.UTC()
	return &rec, nil
}
