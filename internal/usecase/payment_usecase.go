package usecase

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iho/transactai/internal/domain"
	"github.com/iho/transactai/internal/infrastructure/metrics"
)

// PaymentUseCase moves funds between two accounts.
type PaymentUseCase struct {
	txManager   TransactionManager
	accountRepo AccountRepository
	retrier     Retrier
	metrics     *metrics.Metrics
}

// NewPaymentUseCase creates a new PaymentUseCase.
func NewPaymentUseCase(txManager TransactionManager, accountRepo AccountRepository, metrics *metrics.Metrics) *PaymentUseCase {
	return &PaymentUseCase{
		txManager:   txManager,
		accountRepo: accountRepo,
		metrics:     metrics,
	}
}

// WithRetrier retries the locked section of a payment on transient
// storage conflicts.
func (uc *PaymentUseCase) WithRetrier(r Retrier) *PaymentUseCase {
	uc.retrier = r
	return uc
}

// TransferInput represents input for an internal payment.
type TransferInput struct {
	Sender    string
	Recipient string
	Amount    decimal.Decimal
	Reference string
}

// TransferResult carries both balances after the payment.
type TransferResult struct {
	Sender           string
	Recipient        string
	Amount           decimal.Decimal
	Reference        string
	SenderBalance    decimal.Decimal
	RecipientBalance decimal.Decimal
}

// Transfer debits the sender and credits the recipient atomically. An
// unknown recipient is registered on the fly.
func (uc *PaymentUseCase) Transfer(ctx context.Context, input TransferInput) (*TransferResult, error) {
	start := time.Now()

	if input.Sender == input.Recipient {
		return nil, domain.ErrSameAccount
	}
	if !input.Amount.IsPositive() {
		return nil, domain.ErrInvalidAmount
	}
	if err := domain.ValidateAgentAddress(input.Recipient); err != nil {
		return nil, err
	}
	if err := domain.ValidateReference(input.Reference); err != nil {
		return nil, err
	}

	// Fail fast so a rejected payment does not register the recipient. The
	// locked check below is authoritative.
	current, err := uc.accountRepo.GetByID(ctx, input.Sender)
	if err != nil {
		return nil, err
	}
	if err := current.ValidateDebit(input.Amount); err != nil {
		return nil, err
	}
	if _, _, err := ensureAccount(ctx, uc.accountRepo, input.Recipient); err != nil {
		return nil, err
	}

	var senderBalance, recipientBalance decimal.Decimal
	err = retry(ctx, uc.retrier, func() error {
		var err error
		senderBalance, recipientBalance, err = uc.transfer(ctx, input)
		return err
	})
	if err != nil {
		return nil, err
	}

	if uc.metrics != nil {
		uc.metrics.PaymentsCompleted.Inc()
		uc.metrics.PaymentDuration.Observe(time.Since(start).Seconds())
	}

	return &TransferResult{
		Sender:           input.Sender,
		Recipient:        input.Recipient,
		Amount:           input.Amount,
		Reference:        input.Reference,
		SenderBalance:    senderBalance,
		RecipientBalance: recipientBalance,
	}, nil
}

func (uc *PaymentUseCase) transfer(ctx context.Context, input TransferInput) (decimal.Decimal, decimal.Decimal, error) {
	txCtx, cancel := context.WithTimeout(ctx, DefaultTransactionTimeout)
	defer cancel()

	tx, err := uc.txManager.Begin(txCtx)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	defer func() { _ = tx.Rollback(txCtx) }()

	accounts, err := lockAccounts(txCtx, uc.accountRepo, tx, input.Sender, input.Recipient)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	sender, recipient := accounts[input.Sender], accounts[input.Recipient]

	if err := sender.ValidateDebit(input.Amount); err != nil {
		return decimal.Zero, decimal.Zero, err
	}

	now := time.Now().UTC()
	senderBalance := sender.ApplyDebit(input.Amount)
	recipientBalance := recipient.ApplyCredit(input.Amount)

	if err := uc.accountRepo.UpdateBalance(txCtx, tx, sender.ID, senderBalance, now); err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	if err := uc.accountRepo.UpdateBalance(txCtx, tx, recipient.ID, recipientBalance, now); err != nil {
		return decimal.Zero, decimal.Zero, err
	}

	if err := tx.Commit(txCtx); err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return senderBalance, recipientBalance, nil
}

// lockAccounts locks every id in sorted order and fails if any is missing.
func lockAccounts(ctx context.Context, repo AccountRepository, tx Transaction, ids ...string) (map[string]*domain.Account, error) {
	accounts, err := repo.GetByIDsForUpdate(ctx, tx, ids)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*domain.Account, len(accounts))
	for _, acc := range accounts {
		byID[acc.ID] = acc
	}
	for _, id := range ids {
		if byID[id] == nil {
			return nil, domain.ErrAccountNotFound
		}
	}

	return byID, nil
}
