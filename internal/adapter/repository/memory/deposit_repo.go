package memory

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/iho/transactai/internal/domain"
	"github.com/iho/transactai/internal/usecase"
)

// DepositRepository implements usecase.DepositRepository.
type DepositRepository struct {
	store *Store
}

// NewDepositRepository creates a new DepositRepository.
func NewDepositRepository(store *Store) *DepositRepository {
	return &DepositRepository{store: store}
}

// GetByTxHash retrieves a deposit record.
func (r *DepositRepository) GetByTxHash(ctx context.Context, txHash string) (*domain.DepositRecord, error) {
	rec, ok := r.store.committedDeposit(txHash)
	if !ok {
		return nil, domain.ErrDepositNotFound
	}
	return rec, nil
}

// GetByTxHashForUpdate locks the hash and returns its record, if any.
func (r *DepositRepository) GetByTxHashForUpdate(ctx context.Context, tx usecase.Transaction, txHash string) (*domain.DepositRecord, error) {
	t := tx.(*Tx)
	if err := t.acquire(ctx, depositKey(txHash)); err != nil {
		return nil, err
	}

	rec, ok := t.deposit(txHash)
	if !ok {
		return nil, domain.ErrDepositNotFound
	}
	return rec, nil
}

// Upsert stages the record for a locked hash.
func (r *DepositRepository) Upsert(ctx context.Context, tx usecase.Transaction, record *domain.DepositRecord) error {
	t := tx.(*Tx)
	if !t.holds(depositKey(record.TxHash)) {
		return errNotLocked
	}

	cp := *record
	t.deposits[record.TxHash] = &cp
	return nil
}

// ListPending returns pending records, oldest first.
func (r *DepositRepository) ListPending(ctx context.Context, limit int) ([]*domain.DepositRecord, error) {
	r.store.mu.RLock()
	pending := make([]*domain.DepositRecord, 0)
	for _, rec := range r.store.deposits {
		if rec.Status == domain.DepositStatusPending {
			cp := *rec
			pending = append(pending, &cp)
		}
	}
	r.store.mu.RUnlock()

	sort.Slice(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

// LedgerRepository implements usecase.LedgerRepository.
type LedgerRepository struct {
	store *Store
}

// NewLedgerRepository creates a new LedgerRepository.
func NewLedgerRepository(store *Store) *LedgerRepository {
	return &LedgerRepository{store: store}
}

// Totals sums the committed ledger.
func (r *LedgerRepository) Totals(ctx context.Context) (*domain.LedgerTotals, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	totals := &domain.LedgerTotals{
		Balances:          decimal.Zero,
		HeldEscrow:        decimal.Zero,
		ConfirmedDeposits: decimal.Zero,
		Withdrawn:         r.store.withdrawn,
	}
	for _, acc := range r.store.accounts {
		totals.Balances = totals.Balances.Add(acc.Balance)
	}
	for _, e := range r.store.escrows {
		if e.State == domain.EscrowStateHeld {
			totals.HeldEscrow = totals.HeldEscrow.Add(e.Amount)
		}
	}
	for _, rec := range r.store.deposits {
		if rec.Status == domain.DepositStatusConfirmed {
			totals.ConfirmedDeposits = totals.ConfirmedDeposits.Add(rec.Amount)
		}
	}
	return totals, nil
}

// AddWithdrawn stages a change to the withdrawn total.
func (r *LedgerRepository) AddWithdrawn(ctx context.Context, tx usecase.Transaction, delta decimal.Decimal) error {
	t := tx.(*Tx)
	if t.done {
		return ErrTxDone
	}
	t.withdrawn = t.withdrawn.Add(delta)
	return nil
}
