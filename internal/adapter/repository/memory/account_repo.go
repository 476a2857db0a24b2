package memory

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iho/transactai/internal/domain"
	"github.com/iho/transactai/internal/usecase"
)

var errNotLocked = errors.New("row not locked by transaction")

// AccountRepository implements usecase.AccountRepository.
type AccountRepository struct {
	store *Store
}

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(store *Store) *AccountRepository {
	return &AccountRepository{store: store}
}

// Create creates a new account.
func (r *AccountRepository) Create(ctx context.Context, account *domain.Account) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, ok := r.store.accounts[account.ID]; ok {
		return domain.ErrAccountExists
	}

	cp := *account
	r.store.accounts[account.ID] = &cp
	if cp.WalletAddress != "" {
		r.store.wallets[cp.WalletAddress] = cp.ID
	}
	return nil
}

// GetByID retrieves an account by ID.
func (r *AccountRepository) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	acc, ok := r.store.committedAccount(id)
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	return acc, nil
}

// GetByIDForUpdate retrieves an account by ID and locks it.
func (r *AccountRepository) GetByIDForUpdate(ctx context.Context, tx usecase.Transaction, id string) (*domain.Account, error) {
	t := tx.(*Tx)
	if err := t.acquire(ctx, accountKey(id)); err != nil {
		return nil, err
	}

	acc, ok := t.account(id)
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	return acc, nil
}

// GetByIDsForUpdate locks accounts in id order and returns those that exist.
func (r *AccountRepository) GetByIDsForUpdate(ctx context.Context, tx usecase.Transaction, ids []string) ([]*domain.Account, error) {
	t := tx.(*Tx)

	sorted := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		sorted = append(sorted, id)
	}
	sort.Strings(sorted)

	accounts := make([]*domain.Account, 0, len(sorted))
	for _, id := range sorted {
		if err := t.acquire(ctx, accountKey(id)); err != nil {
			return nil, err
		}
		if acc, ok := t.account(id); ok {
			accounts = append(accounts, acc)
		}
	}
	return accounts, nil
}

// UpdateBalance stages a new balance for a locked account.
func (r *AccountRepository) UpdateBalance(ctx context.Context, tx usecase.Transaction, id string, balance decimal.Decimal, updatedAt time.Time) error {
	t := tx.(*Tx)
	if !t.holds(accountKey(id)) {
		return errNotLocked
	}
	if balance.IsNegative() {
		return domain.ErrInsufficientFunds
	}

	acc, ok := t.account(id)
	if !ok {
		return domain.ErrAccountNotFound
	}
	acc.Balance = balance
	acc.Version++
	acc.UpdatedAt = updatedAt
	t.accounts[id] = acc
	return nil
}

// LinkWallet stages a wallet binding for a locked account.
func (r *AccountRepository) LinkWallet(ctx context.Context, tx usecase.Transaction, id, wallet string, updatedAt time.Time) error {
	t := tx.(*Tx)
	if !t.holds(accountKey(id)) {
		return errNotLocked
	}
	if err := t.acquire(ctx, walletKey(wallet)); err != nil {
		return err
	}

	owner, staged := t.wallets[wallet]
	if !staged {
		r.store.mu.RLock()
		owner = r.store.wallets[wallet]
		r.store.mu.RUnlock()
	}
	if owner != "" && owner != id {
		return domain.ErrWalletInUse
	}

	acc, ok := t.account(id)
	if !ok {
		return domain.ErrAccountNotFound
	}
	acc.WalletAddress = wallet
	acc.Version++
	acc.UpdatedAt = updatedAt
	t.accounts[id] = acc
	t.wallets[wallet] = id
	return nil
}

// List lists accounts ordered by id.
func (r *AccountRepository) List(ctx context.Context, limit, offset int) ([]*domain.Account, error) {
	r.store.mu.RLock()
	ids := make([]string, 0, len(r.store.accounts))
	for id := range r.store.accounts {
		ids = append(ids, id)
	}
	r.store.mu.RUnlock()

	sort.Strings(ids)
	if offset >= len(ids) {
		return []*domain.Account{}, nil
	}
	ids = ids[offset:]
	if limit > 0 && limit < len(ids) {
		ids = ids[:limit]
	}

	accounts := make([]*domain.Account, 0, len(ids))
	for _, id := range ids {
		if acc, ok := r.store.committedAccount(id); ok {
			accounts = append(accounts, acc)
		}
	}
	return accounts, nil
}
