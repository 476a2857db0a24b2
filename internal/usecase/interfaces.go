package usecase

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iho/transactai/internal/domain"
)

// Row locks taken through the ...ForUpdate methods are held until the
// transaction ends. Within one transaction they must be taken in the order
// deposits, escrows, accounts (sorted by id), wallets.

// AccountRepository defines data access for accounts.
type AccountRepository interface {
	Create(ctx context.Context, account *domain.Account) error
	GetByID(ctx context.Context, id string) (*domain.Account, error)
	GetByIDForUpdate(ctx context.Context, tx Transaction, id string) (*domain.Account, error)
	GetByIDsForUpdate(ctx context.Context, tx Transaction, ids []string) ([]*domain.Account, error)
	UpdateBalance(ctx context.Context, tx Transaction, id string, balance decimal.Decimal, updatedAt time.Time) error
	// LinkWallet binds wallet to the locked account. Fails with
	// domain.ErrWalletInUse when another account holds the wallet.
	LinkWallet(ctx context.Context, tx Transaction, id, wallet string, updatedAt time.Time) error
	List(ctx context.Context, limit, offset int) ([]*domain.Account, error)
}

// EscrowRepository defines data access for escrows.
type EscrowRepository interface {
	Create(ctx context.Context, tx Transaction, escrow *domain.Escrow) error
	GetByID(ctx context.Context, id string) (*domain.Escrow, error)
	GetByIDForUpdate(ctx context.Context, tx Transaction, id string) (*domain.Escrow, error)
	UpdateState(ctx context.Context, tx Transaction, id string, state domain.EscrowState, settledAt time.Time) error
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*domain.Escrow, error)
}

// DepositRepository defines data access for deposit records.
type DepositRepository interface {
	GetByTxHash(ctx context.Context, txHash string) (*domain.DepositRecord, error)
	// GetByTxHashForUpdate locks the tx hash even when no record exists yet,
	// so inserts for one hash are serialized.
	GetByTxHashForUpdate(ctx context.Context, tx Transaction, txHash string) (*domain.DepositRecord, error)
	Upsert(ctx context.Context, tx Transaction, record *domain.DepositRecord) error
	ListPending(ctx context.Context, limit int) ([]*domain.DepositRecord, error)
}

// LedgerRepository defines data access for ledger-wide operations.
type LedgerRepository interface {
	Totals(ctx context.Context) (*domain.LedgerTotals, error)
	// AddWithdrawn adjusts the running total of paid-out funds; delta is
	// negative when a failed payout is reversed.
	AddWithdrawn(ctx context.Context, tx Transaction, delta decimal.Decimal) error
}

// Transaction represents a database transaction.
type Transaction interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// TransactionManager handles transaction lifecycle.
type TransactionManager interface {
	Begin(ctx context.Context) (Transaction, error)
}

// Retrier re-runs an operation on transient storage conflicts such as
// deadlocks. Errors it does not consider transient are returned unchanged.
type Retrier interface {
	Retry(ctx context.Context, operation func() error) error
}

func retry(ctx context.Context, r Retrier, operation func() error) error {
	if r == nil {
		return operation()
	}
	return r.Retry(ctx, operation)
}

// IDGenerator generates unique IDs.
type IDGenerator interface {
	Generate() string
}

// IdempotencyStore handles idempotency key storage.
type IdempotencyStore interface {
	// CheckAndSet atomically checks if key exists, sets if not.
	// Returns (exists, existingValue, error).
	CheckAndSet(ctx context.Context, key string, response []byte, ttl time.Duration) (bool, []byte, error)
	// Update updates an existing key with the final response.
	Update(ctx context.Context, key string, response []byte, ttl time.Duration) error
}
