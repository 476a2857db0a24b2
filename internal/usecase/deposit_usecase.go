package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/iho/transactai/internal/domain"
	"github.com/iho/transactai/internal/infrastructure/metrics"
)

// DepositConfig holds deposit reconciliation policy.
type DepositConfig struct {
	PlatformWallet string
	Confirmations  int64
	// ConfirmWait bounds how long a submission polls the chain for missing
	// confirmations before answering pending. Zero checks once.
	ConfirmWait time.Duration
}

// DepositUseCase reconciles on-chain deposits against account balances.
type DepositUseCase struct {
	txManager   TransactionManager
	accountRepo AccountRepository
	depositRepo DepositRepository
	waiter      *ConfirmationWaiter
	cfg         DepositConfig
	metrics     *metrics.Metrics
	logger      zerolog.Logger
}

// NewDepositUseCase creates a new DepositUseCase.
func NewDepositUseCase(
	txManager TransactionManager,
	accountRepo AccountRepository,
	depositRepo DepositRepository,
	chain ChainClient,
	cfg DepositConfig,
	metrics *metrics.Metrics,
	logger zerolog.Logger,
) *DepositUseCase {
	if cfg.Confirmations <= 0 {
		cfg.Confirmations = DefaultConfirmations
	}
	return &DepositUseCase{
		txManager:   txManager,
		accountRepo: accountRepo,
		depositRepo: depositRepo,
		waiter:      NewConfirmationWaiter(chain),
		cfg:         cfg,
		metrics:     metrics,
		logger:      logger,
	}
}

// SubmitDepositInput represents a deposit claim.
type SubmitDepositInput struct {
	AccountID string
	TxHash    string
	Amount    decimal.Decimal
	Denom     string
}

// DepositResult is the state of a deposit after reconciliation. Balance is
// only meaningful for confirmed records.
type DepositResult struct {
	Record  *domain.DepositRecord
	Balance decimal.Decimal
	// Credited is false when a confirmed result was replayed.
	Credited bool
}

// SubmitDeposit verifies a claimed transfer and credits it once confirmed.
// A pending result is not an error; the caller resubmits later or the
// recheck job picks it up.
func (uc *DepositUseCase) SubmitDeposit(ctx context.Context, input SubmitDepositInput) (*DepositResult, error) {
	start := time.Now()

	result, err := uc.submit(ctx, input)

	if uc.metrics != nil {
		uc.metrics.DepositDuration.Observe(time.Since(start).Seconds())
		uc.metrics.Deposits.WithLabelValues(depositOutcome(result, err)).Inc()
	}

	return result, err
}

func (uc *DepositUseCase) submit(ctx context.Context, input SubmitDepositInput) (*DepositResult, error) {
	if err := domain.ValidateTxHash(input.TxHash); err != nil {
		return nil, err
	}
	if !input.Amount.IsPositive() {
		return nil, domain.ErrInvalidAmount
	}
	if err := domain.ValidateDenom(input.Denom); err != nil {
		return nil, err
	}

	existing, err := uc.depositRepo.GetByTxHash(ctx, input.TxHash)
	switch {
	case err == nil:
		if replay, done, replayErr := replayFinal(existing, input.AccountID); done {
			return replay, replayErr
		}
	case !errors.Is(err, domain.ErrDepositNotFound):
		return nil, err
	}

	account, err := uc.accountRepo.GetByID(ctx, input.AccountID)
	if err != nil {
		return nil, err
	}
	if !account.HasWallet() {
		return nil, domain.ErrWalletNotLinked
	}

	return uc.evaluate(ctx, account, input, uc.cfg.ConfirmWait)
}

// RecheckPending re-evaluates pending deposits once each and returns those
// that reached a final state.
func (uc *DepositUseCase) RecheckPending(ctx context.Context) ([]*DepositResult, error) {
	pending, err := uc.depositRepo.ListPending(ctx, RecheckBatchSize)
	if err != nil {
		return nil, err
	}

	finished := make([]*DepositResult, 0)
	for _, rec := range pending {
		if ctx.Err() != nil {
			return finished, ctx.Err()
		}

		log := uc.logger.With().Str("tx_hash", rec.TxHash).Str("account", rec.AccountID).Logger()

		account, err := uc.accountRepo.GetByID(ctx, rec.AccountID)
		if err != nil {
			log.Error().Err(err).Msg("pending deposit account lookup failed")
			continue
		}

		result, err := uc.evaluate(ctx, account, SubmitDepositInput{
			AccountID: rec.AccountID,
			TxHash:    rec.TxHash,
			Amount:    rec.Amount,
			Denom:     rec.Denom,
		}, 0)
		if err != nil {
			if domain.IsIntrinsicRejection(err) {
				stored, getErr := uc.depositRepo.GetByTxHash(ctx, rec.TxHash)
				if getErr == nil {
					finished = append(finished, &DepositResult{Record: stored})
				}
				continue
			}
			log.Warn().Err(err).Msg("pending deposit recheck failed")
			continue
		}

		if result.Record.IsFinal() {
			if uc.metrics != nil {
				uc.metrics.Deposits.WithLabelValues(depositOutcome(result, nil)).Inc()
			}
			finished = append(finished, result)
		}
	}

	return finished, nil
}

// evaluate looks the transaction up on chain with no locks held and then
// records the outcome.
func (uc *DepositUseCase) evaluate(ctx context.Context, account *domain.Account, input SubmitDepositInput, wait time.Duration) (*DepositResult, error) {
	chainTx, confs, err := uc.waiter.Wait(ctx, input.TxHash, uc.cfg.Confirmations, wait)
	if err != nil {
		if errors.Is(err, domain.ErrTxNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrExternalChainFailure, err)
	}

	now := time.Now().UTC()
	record := &domain.DepositRecord{
		TxHash:        input.TxHash,
		AccountID:     account.ID,
		Amount:        input.Amount,
		Denom:         input.Denom,
		Confirmations: confs,
		Required:      uc.cfg.Confirmations,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	_, matchErr := chainTx.MatchDeposit(domain.DepositClaim{
		PlatformWallet: uc.cfg.PlatformWallet,
		SenderWallet:   account.WalletAddress,
		Amount:         input.Amount,
		Denom:          input.Denom,
	})
	if matchErr != nil {
		if domain.IsIntrinsicRejection(matchErr) {
			record.Status = domain.DepositStatusRejected
			record.Reason = matchErr.Error()
			if _, err := uc.record(ctx, record); err != nil {
				return nil, err
			}
		}
		return nil, matchErr
	}

	if confs < uc.cfg.Confirmations {
		record.Status = domain.DepositStatusPending
		return uc.record(ctx, record)
	}

	return uc.credit(ctx, record)
}

// record stores a non-crediting outcome unless the hash already reached a
// final state, in which case that state wins.
func (uc *DepositUseCase) record(ctx context.Context, record *domain.DepositRecord) (*DepositResult, error) {
	txCtx, cancel := context.WithTimeout(ctx, DefaultTransactionTimeout)
	defer cancel()

	tx, err := uc.txManager.Begin(txCtx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(txCtx) }()

	existing, err := uc.depositRepo.GetByTxHashForUpdate(txCtx, tx, record.TxHash)
	switch {
	case err == nil:
		if replay, done, replayErr := replayFinal(existing, record.AccountID); done {
			return replay, replayErr
		}
		record.CreatedAt = existing.CreatedAt
	case !errors.Is(err, domain.ErrDepositNotFound):
		return nil, err
	}

	if err := uc.depositRepo.Upsert(txCtx, tx, record); err != nil {
		return nil, err
	}
	if err := tx.Commit(txCtx); err != nil {
		return nil, err
	}

	return &DepositResult{Record: record}, nil
}

// credit is the short locked step: deposit row, then account row.
func (uc *DepositUseCase) credit(ctx context.Context, record *domain.DepositRecord) (*DepositResult, error) {
	txCtx, cancel := context.WithTimeout(ctx, DefaultTransactionTimeout)
	defer cancel()

	tx, err := uc.txManager.Begin(txCtx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(txCtx) }()

	existing, err := uc.depositRepo.GetByTxHashForUpdate(txCtx, tx, record.TxHash)
	switch {
	case err == nil:
		if replay, done, replayErr := replayFinal(existing, record.AccountID); done {
			return replay, replayErr
		}
		record.CreatedAt = existing.CreatedAt
	case !errors.Is(err, domain.ErrDepositNotFound):
		return nil, err
	}

	account, err := uc.accountRepo.GetByIDForUpdate(txCtx, tx, record.AccountID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	newBalance := account.ApplyCredit(record.Amount)
	if err := uc.accountRepo.UpdateBalance(txCtx, tx, account.ID, newBalance, now); err != nil {
		return nil, err
	}

	record.Status = domain.DepositStatusConfirmed
	record.BalanceAfter = newBalance
	record.UpdatedAt = now
	if err := uc.depositRepo.Upsert(txCtx, tx, record); err != nil {
		return nil, err
	}

	if err := tx.Commit(txCtx); err != nil {
		return nil, err
	}

	uc.logger.Info().
		Str("tx_hash", record.TxHash).
		Str("account", record.AccountID).
		Str("amount", domain.FormatAmount(record.Amount)).
		Msg("deposit credited")

	return &DepositResult{Record: record, Balance: newBalance, Credited: true}, nil
}

// replayFinal answers from a final record. done is false when the record is
// still pending and evaluation should continue.
func replayFinal(existing *domain.DepositRecord, accountID string) (*DepositResult, bool, error) {
	switch existing.Status {
	case domain.DepositStatusConfirmed:
		if existing.AccountID != accountID {
			return nil, true, domain.ErrAlreadyProcessed
		}
		return &DepositResult{Record: existing, Balance: existing.BalanceAfter}, true, nil
	case domain.DepositStatusRejected:
		return nil, true, existing.RejectionError()
	default:
		if existing.AccountID != accountID {
			return nil, true, domain.ErrAlreadyProcessed
		}
		return nil, false, nil
	}
}

func depositOutcome(result *DepositResult, err error) string {
	switch {
	case err != nil:
		return "failed"
	case result.Record.Status == domain.DepositStatusConfirmed && !result.Credited:
		return "replayed"
	default:
		return string(result.Record.Status)
	}
}
