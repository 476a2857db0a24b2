package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/iho/transactai/internal/domain"
	"github.com/iho/transactai/internal/infrastructure/metrics"
)

// AccountUseCase handles account business logic.
type AccountUseCase struct {
	txManager   TransactionManager
	accountRepo AccountRepository
	metrics     *metrics.Metrics
}

// NewAccountUseCase creates a new AccountUseCase.
func NewAccountUseCase(txManager TransactionManager, accountRepo AccountRepository, metrics *metrics.Metrics) *AccountUseCase {
	return &AccountUseCase{
		txManager:   txManager,
		accountRepo: accountRepo,
		metrics:     metrics,
	}
}

// Register creates the account if needed. Registering twice returns the
// existing account untouched.
func (uc *AccountUseCase) Register(ctx context.Context, id string) (*domain.Account, error) {
	if err := domain.ValidateAgentAddress(id); err != nil {
		return nil, err
	}

	account, created, err := ensureAccount(ctx, uc.accountRepo, id)
	if err != nil {
		return nil, err
	}

	if created && uc.metrics != nil {
		uc.metrics.AccountsRegistered.Inc()
	}

	return account, nil
}

// GetAccount retrieves an account by ID.
func (uc *AccountUseCase) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	return uc.accountRepo.GetByID(ctx, id)
}

// RegisterWallet binds an external wallet to the account.
func (uc *AccountUseCase) RegisterWallet(ctx context.Context, id, wallet string) (*domain.Account, error) {
	if err := domain.ValidateWalletAddress(wallet); err != nil {
		return nil, err
	}

	txCtx, cancel := context.WithTimeout(ctx, DefaultTransactionTimeout)
	defer cancel()

	tx, err := uc.txManager.Begin(txCtx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(txCtx) }()

	account, err := uc.accountRepo.GetByIDForUpdate(txCtx, tx, id)
	if err != nil {
		return nil, err
	}

	if err := account.ValidateLink(wallet); err != nil {
		return nil, err
	}
	if account.WalletAddress == wallet {
		return account, nil
	}

	now := time.Now().UTC()
	if err := uc.accountRepo.LinkWallet(txCtx, tx, id, wallet, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(txCtx); err != nil {
		return nil, err
	}

	if uc.metrics != nil {
		uc.metrics.WalletsLinked.Inc()
	}

	account.WalletAddress = wallet
	account.UpdatedAt = now
	return account, nil
}

// ListAccounts lists accounts with pagination.
func (uc *AccountUseCase) ListAccounts(ctx context.Context, limit, offset int) ([]*domain.Account, error) {
	limit, offset = domain.ValidatePagination(limit, offset)
	return uc.accountRepo.List(ctx, limit, offset)
}

// ensureAccount returns the account, creating it with a zero balance when
// it does not exist yet.
func ensureAccount(ctx context.Context, repo AccountRepository, id string) (*domain.Account, bool, error) {
	account, err := repo.GetByID(ctx, id)
	if err == nil {
		return account, false, nil
	}
	if !errors.Is(err, domain.ErrAccountNotFound) {
		return nil, false, err
	}

	account = domain.NewAccount(id, time.Now().UTC())
	if err := repo.Create(ctx, account); err != nil {
		if errors.Is(err, domain.ErrAccountExists) {
			existing, getErr := repo.GetByID(ctx, id)
			return existing, false, getErr
		}
		return nil, false, err
	}

	return account, true, nil
}
