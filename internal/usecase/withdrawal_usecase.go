package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/iho/transactai/internal/domain"
	"github.com/iho/transactai/internal/infrastructure/metrics"
)

// WithdrawalConfig holds payout policy.
type WithdrawalConfig struct {
	Denom string
	// Confirmations to wait for after a payout is broadcast. Zero skips the wait.
	Confirmations int64
	ConfirmWait   time.Duration
}

// WithdrawalUseCase pays balances out on chain.
type WithdrawalUseCase struct {
	txManager   TransactionManager
	accountRepo AccountRepository
	ledgerRepo  LedgerRepository
	chain       ChainClient
	waiter      *ConfirmationWaiter
	cfg         WithdrawalConfig
	metrics     *metrics.Metrics
	logger      zerolog.Logger
}

// NewWithdrawalUseCase creates a new WithdrawalUseCase.
func NewWithdrawalUseCase(
	txManager TransactionManager,
	accountRepo AccountRepository,
	ledgerRepo LedgerRepository,
	chain ChainClient,
	cfg WithdrawalConfig,
	metrics *metrics.Metrics,
	logger zerolog.Logger,
) *WithdrawalUseCase {
	return &WithdrawalUseCase{
		txManager:   txManager,
		accountRepo: accountRepo,
		ledgerRepo:  ledgerRepo,
		chain:       chain,
		waiter:      NewConfirmationWaiter(chain),
		cfg:         cfg,
		metrics:     metrics,
		logger:      logger,
	}
}

// WithdrawInput represents a payout request.
type WithdrawInput struct {
	AccountID   string
	Amount      decimal.Decimal
	Destination string
	Denom       string
}

// WithdrawResult is a completed payout.
type WithdrawResult struct {
	Withdrawal domain.PendingWithdrawal
	TxHash     string
	Balance    decimal.Decimal
}

// Withdraw debits the account, then sends on chain with no lock held. A
// failed send is compensated by a separate refund transaction.
func (uc *WithdrawalUseCase) Withdraw(ctx context.Context, input WithdrawInput) (*WithdrawResult, error) {
	start := time.Now()

	result, err := uc.withdraw(ctx, input)

	if uc.metrics != nil {
		status := "success"
		if err != nil {
			status = "failed"
		}
		uc.metrics.Withdrawals.WithLabelValues(status).Inc()
		uc.metrics.WithdrawalDuration.Observe(time.Since(start).Seconds())
	}

	return result, err
}

func (uc *WithdrawalUseCase) withdraw(ctx context.Context, input WithdrawInput) (*WithdrawResult, error) {
	if !input.Amount.IsPositive() {
		return nil, domain.ErrInvalidAmount
	}
	if err := domain.ValidateWalletAddress(input.Destination); err != nil {
		return nil, err
	}
	if uc.cfg.Denom != "" && input.Denom != uc.cfg.Denom {
		return nil, fmt.Errorf("%w: only %s can be withdrawn", domain.ErrDenomMismatch, uc.cfg.Denom)
	}

	pending := domain.PendingWithdrawal{
		AccountID:   input.AccountID,
		Amount:      input.Amount,
		Destination: input.Destination,
		Denom:       input.Denom,
	}

	balance, err := uc.adjust(ctx, pending.AccountID, pending.Amount.Neg())
	if err != nil {
		return nil, err
	}

	log := uc.logger.With().
		Str("account", pending.AccountID).
		Str("amount", domain.FormatAmount(pending.Amount)).
		Str("destination", pending.Destination).
		Logger()

	txHash, sendErr := uc.chain.SendTokens(ctx, pending.Destination, pending.Amount, pending.Denom)
	if sendErr != nil {
		// The request context may be what failed the send; the refund must
		// still land.
		refundCtx := context.WithoutCancel(ctx)
		if _, err := uc.adjust(refundCtx, pending.AccountID, pending.Amount); err != nil {
			log.Error().Err(err).AnErr("send_error", sendErr).Msg("withdrawal refund failed")
			return nil, fmt.Errorf("%w: %v (refund failed: %v)", domain.ErrExternalChainFailure, sendErr, err)
		}
		log.Warn().Err(sendErr).Msg("withdrawal send failed, balance refunded")
		return nil, fmt.Errorf("%w: %v", domain.ErrExternalChainFailure, sendErr)
	}

	log.Info().Str("tx_hash", txHash).Msg("withdrawal sent")

	if uc.cfg.Confirmations > 0 {
		_, confs, err := uc.waiter.Wait(ctx, txHash, uc.cfg.Confirmations, uc.cfg.ConfirmWait)
		if err != nil || confs < uc.cfg.Confirmations {
			log.Warn().Err(err).Str("tx_hash", txHash).Int64("confirmations", confs).
				Msg("withdrawal not yet confirmed")
		}
	}

	return &WithdrawResult{Withdrawal: pending, TxHash: txHash, Balance: balance}, nil
}

// adjust applies delta to the account balance and the inverse to the
// ledger's withdrawn total in one transaction.
func (uc *WithdrawalUseCase) adjust(ctx context.Context, accountID string, delta decimal.Decimal) (decimal.Decimal, error) {
	txCtx, cancel := context.WithTimeout(ctx, DefaultTransactionTimeout)
	defer cancel()

	tx, err := uc.txManager.Begin(txCtx)
	if err != nil {
		return decimal.Zero, err
	}
	defer func() { _ = tx.Rollback(txCtx) }()

	account, err := uc.accountRepo.GetByIDForUpdate(txCtx, tx, accountID)
	if err != nil {
		return decimal.Zero, err
	}

	if delta.IsNegative() {
		if err := account.ValidateDebit(delta.Neg()); err != nil {
			return decimal.Zero, err
		}
	}

	newBalance := account.Balance.Add(delta)
	if err := uc.accountRepo.UpdateBalance(txCtx, tx, accountID, newBalance, time.Now().UTC()); err != nil {
		return decimal.Zero, err
	}
	if err := uc.ledgerRepo.AddWithdrawn(txCtx, tx, delta.Neg()); err != nil {
		return decimal.Zero, err
	}

	if err := tx.Commit(txCtx); err != nil {
		return decimal.Zero, err
	}

	return newBalance, nil
}
