package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/iho/transactai/internal/domain"
	"github.com/iho/transactai/internal/usecase"
)

const accountColumns = `id, balance, COALESCE(wallet_address, ''), version, created_at, updated_at`

// AccountRepository implements usecase.AccountRepository.
type AccountRepository struct {
	db DBTX
}

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(db DBTX) *AccountRepository {
	return &AccountRepository{db: db}
}

// Create creates a new account.
func (r *AccountRepository) Create(ctx context.Context, account *domain.Account) error {
	tag, err := r.db.Exec(ctx, `
		INSERT INTO accounts (id, balance, wallet_address, version, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`,
		account.ID,
		decimalToNumeric(account.Balance),
		account.WalletAddress,
		account.Version,
		timeToPgTimestamptz(account.CreatedAt),
		timeToPgTimestamptz(account.UpdatedAt),
	)
	if err != nil {
		if pgErrorCode(err) == pgErrUniqueViolation {
			return domain.ErrWalletInUse
		}
		return fmt.Errorf("insert account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAccountExists
	}
	return nil
}

// GetByID retrieves an account by ID.
func (r *AccountRepository) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	row := r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	return scanAccount(row)
}

// GetByIDForUpdate retrieves an account by ID with a FOR UPDATE lock.
func (r *AccountRepository) GetByIDForUpdate(ctx context.Context, tx usecase.Transaction, id string) (*domain.Account, error) {
	conn, err := txConn(tx)
	if err != nil {
		return nil, err
	}

	row := conn.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, id)
	return scanAccount(row)
}

// GetByIDsForUpdate locks the existing accounts among ids in id order.
func (r *AccountRepository) GetByIDsForUpdate(ctx context.Context, tx usecase.Transaction, ids []string) ([]*domain.Account, error) {
	conn, err := txConn(tx)
	if err != nil {
		return nil, err
	}

	rows, err := conn.Query(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids)
	if err != nil {
		return nil, fmt.Errorf("lock accounts: %w", err)
	}
	defer rows.Close()

	accounts := make([]*domain.Account, 0, len(ids))
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, acc)
	}
	return accounts, rows.Err()
}

// UpdateBalance updates the balance of a locked account.
func (r *AccountRepository) UpdateBalance(ctx context.Context, tx usecase.Transaction, id string, balance decimal.Decimal, updatedAt time.Time) error {
	conn, err := txConn(tx)
	if err != nil {
		return err
	}

	tag, err := conn.Exec(ctx, `
		UPDATE accounts SET balance = $2, version = version + 1, updated_at = $3
		WHERE id = $1`,
		id, decimalToNumeric(balance), timeToPgTimestamptz(updatedAt))
	if err != nil {
		if pgErrorCode(err) == pgErrCheckViolation {
			return domain.ErrInsufficientFunds
		}
		return fmt.Errorf("update balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

// LinkWallet binds wallet to a locked account. The unique index on
// wallet_address settles races between accounts claiming one wallet.
func (r *AccountRepository) LinkWallet(ctx context.Context, tx usecase.Transaction, id, wallet string, updatedAt time.Time) error {
	conn, err := txConn(tx)
	if err != nil {
		return err
	}

	tag, err := conn.Exec(ctx, `
		UPDATE accounts SET wallet_address = $2, version = version + 1, updated_at = $3
		WHERE id = $1`,
		id, wallet, timeToPgTimestamptz(updatedAt))
	if err != nil {
		if pgErrorCode(err) == pgErrUniqueViolation {
			return domain.ErrWalletInUse
		}
		return fmt.Errorf("link wallet: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

// List lists accounts ordered by id.
func (r *AccountRepository) List(ctx context.Context, limit, offset int) ([]*domain.Account, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+accountColumns+` FROM accounts ORDER BY id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	accounts := make([]*domain.Account, 0, limit)
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, acc)
	}
	return accounts, rows.Err()
}

func scanAccount(row scanner) (*domain.Account, error) {
	var (
		acc       domain.Account
		balance   pgtype.Numeric
		createdAt pgtype.Timestamptz
		updatedAt pgtype.Timestamptz
	)
	err := row.Scan(&acc.ID, &balance, &acc.WalletAddress, &acc.Version, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}
	acc.Balance = numericToDecimal(balance)
	acc.CreatedAt = createdAt.Time.UTC()
	acc.UpdatedAt = updatedAt.Time.UTC()
	return &acc, nil
}
