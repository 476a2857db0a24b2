package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/iho/transactai/internal/domain"
	"github.com/iho/transactai/internal/infrastructure/metrics"
)

// EscrowUseCase creates, releases and expires escrows.
type EscrowUseCase struct {
	txManager   TransactionManager
	accountRepo AccountRepository
	escrowRepo  EscrowRepository
	idGen       IDGenerator
	retrier     Retrier
	metrics     *metrics.Metrics
	logger      zerolog.Logger
	now         func() time.Time
	maxTTL      time.Duration
}

// EscrowOption configures an EscrowUseCase.
type EscrowOption func(*EscrowUseCase)

// WithEscrowClock overrides the time source.
func WithEscrowClock(now func() time.Time) EscrowOption {
	return func(uc *EscrowUseCase) {
		if now != nil {
			uc.now = now
		}
	}
}

// WithEscrowMaxTTL caps escrow lifetimes.
func WithEscrowMaxTTL(ttl time.Duration) EscrowOption {
	return func(uc *EscrowUseCase) {
		if ttl > 0 {
			uc.maxTTL = ttl
		}
	}
}

// WithEscrowLogger sets the logger used by the sweep.
func WithEscrowLogger(logger zerolog.Logger) EscrowOption {
	return func(uc *EscrowUseCase) {
		uc.logger = logger
	}
}

// WithEscrowRetrier retries locked sections on transient storage conflicts.
func WithEscrowRetrier(r Retrier) EscrowOption {
	return func(uc *EscrowUseCase) {
		uc.retrier = r
	}
}

// NewEscrowUseCase creates a new EscrowUseCase.
func NewEscrowUseCase(
	txManager TransactionManager,
	accountRepo AccountRepository,
	escrowRepo EscrowRepository,
	idGen IDGenerator,
	metrics *metrics.Metrics,
	opts ...EscrowOption,
) *EscrowUseCase {
	uc := &EscrowUseCase{
		txManager:   txManager,
		accountRepo: accountRepo,
		escrowRepo:  escrowRepo,
		idGen:       idGen,
		metrics:     metrics,
		logger:      zerolog.Nop(),
		now:         time.Now,
		maxTTL:      DefaultEscrowMaxTTL,
	}
	for _, opt := range opts {
		opt(uc)
	}
	return uc
}

// CreateEscrowInput represents input for creating an escrow.
type CreateEscrowInput struct {
	Sender    string
	Recipient string
	Amount    decimal.Decimal
	Reference string
	TTL       time.Duration
}

// CreateEscrowResult carries the new escrow and the sender's balance.
type CreateEscrowResult struct {
	Escrow        *domain.Escrow
	SenderBalance decimal.Decimal
}

// SettleResult describes a settled escrow and who was credited.
type SettleResult struct {
	Escrow       *domain.Escrow
	Payee        string
	PayeeBalance decimal.Decimal
}

// CreateEscrow debits the sender and holds the funds until release or expiry.
func (uc *EscrowUseCase) CreateEscrow(ctx context.Context, input CreateEscrowInput) (*CreateEscrowResult, error) {
	start := time.Now()

	if input.TTL <= 0 || input.TTL > uc.maxTTL {
		return nil, domain.ErrInvalidExpiration
	}
	if err := domain.ValidateAgentAddress(input.Recipient); err != nil {
		return nil, err
	}
	if err := domain.ValidateReference(input.Reference); err != nil {
		return nil, err
	}

	now := uc.now().UTC()
	escrow := &domain.Escrow{
		ID:        uc.idGen.Generate(),
		Sender:    input.Sender,
		Recipient: input.Recipient,
		Amount:    input.Amount,
		Reference: input.Reference,
		State:     domain.EscrowStateHeld,
		CreatedAt: now,
		ExpiresAt: now.Add(input.TTL),
	}
	if err := escrow.Validate(); err != nil {
		return nil, err
	}

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

	var newBalance decimal.Decimal
	err = retry(ctx, uc.retrier, func() error {
		var err error
		newBalance, err = uc.hold(ctx, escrow, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	if uc.metrics != nil {
		uc.metrics.EscrowsCreated.Inc()
		uc.metrics.EscrowDuration.Observe(time.Since(start).Seconds())
	}

	return &CreateEscrowResult{Escrow: escrow, SenderBalance: newBalance}, nil
}

// hold inserts the escrow and debits its sender in one transaction.
func (uc *EscrowUseCase) hold(ctx context.Context, escrow *domain.Escrow, now time.Time) (decimal.Decimal, error) {
	txCtx, cancel := context.WithTimeout(ctx, DefaultTransactionTimeout)
	defer cancel()

	tx, err := uc.txManager.Begin(txCtx)
	if err != nil {
		return decimal.Zero, err
	}
	defer func() { _ = tx.Rollback(txCtx) }()

	if err := uc.escrowRepo.Create(txCtx, tx, escrow); err != nil {
		return decimal.Zero, err
	}

	sender, err := uc.accountRepo.GetByIDForUpdate(txCtx, tx, escrow.Sender)
	if err != nil {
		return decimal.Zero, err
	}
	if err := sender.ValidateDebit(escrow.Amount); err != nil {
		return decimal.Zero, err
	}

	newBalance := sender.ApplyDebit(escrow.Amount)
	if err := uc.accountRepo.UpdateBalance(txCtx, tx, sender.ID, newBalance, now); err != nil {
		return decimal.Zero, err
	}

	if err := tx.Commit(txCtx); err != nil {
		return decimal.Zero, err
	}
	return newBalance, nil
}

// ReleaseEscrow pays a held escrow out to its recipient. Only the sender may
// release. Release after expires_at still succeeds until the sweep refunds.
func (uc *EscrowUseCase) ReleaseEscrow(ctx context.Context, escrowID, requester string) (*SettleResult, error) {
	return uc.settle(ctx, escrowID, domain.EscrowStateReleased, func(e *domain.Escrow, _ time.Time) error {
		if e.Sender != requester {
			return domain.ErrUnauthorized
		}
		return nil
	})
}

// RefundExpired returns an expired held escrow to its sender.
func (uc *EscrowUseCase) RefundExpired(ctx context.Context, escrowID string) (*SettleResult, error) {
	return uc.settle(ctx, escrowID, domain.EscrowStateRefunded, func(e *domain.Escrow, now time.Time) error {
		if !e.IsExpired(now) {
			return domain.ErrInvalidEscrowState
		}
		return nil
	})
}

// ExpireDue refunds every held escrow whose expiry has passed. Escrows that
// settle concurrently are skipped.
func (uc *EscrowUseCase) ExpireDue(ctx context.Context) ([]*SettleResult, error) {
	if uc.metrics != nil {
		uc.metrics.EscrowSweepRuns.Inc()
	}

	due, err := uc.escrowRepo.ListExpired(ctx, uc.now().UTC(), SweepBatchSize)
	if err != nil {
		return nil, err
	}

	results := make([]*SettleResult, 0, len(due))
	for _, escrow := range due {
		result, err := uc.RefundExpired(ctx, escrow.ID)
		if err != nil {
			if errors.Is(err, domain.ErrInvalidEscrowState) {
				uc.logger.Debug().Str("escrow_id", escrow.ID).Msg("escrow settled before sweep")
				continue
			}
			if ctx.Err() != nil {
				return results, ctx.Err()
			}
			uc.logger.Error().Err(err).Str("escrow_id", escrow.ID).Msg("failed to refund expired escrow")
			continue
		}
		results = append(results, result)
	}

	return results, nil
}

// GetEscrow retrieves an escrow by ID.
func (uc *EscrowUseCase) GetEscrow(ctx context.Context, escrowID string) (*domain.Escrow, error) {
	return uc.escrowRepo.GetByID(ctx, escrowID)
}

// settle is the single held -> terminal transition. The escrow row is locked
// before the payee account so a release and a refund racing on one escrow
// serialize and the loser sees ErrInvalidEscrowState.
func (uc *EscrowUseCase) settle(
	ctx context.Context,
	escrowID string,
	state domain.EscrowState,
	authorize func(*domain.Escrow, time.Time) error,
) (*SettleResult, error) {
	start := time.Now()

	var result *SettleResult
	err := retry(ctx, uc.retrier, func() error {
		var err error
		result, err = uc.settleOnce(ctx, escrowID, state, authorize)
		return err
	})
	if err != nil {
		return nil, err
	}

	if uc.metrics != nil {
		uc.metrics.EscrowsSettled.WithLabelValues(string(state)).Inc()
		uc.metrics.EscrowDuration.Observe(time.Since(start).Seconds())
	}
	return result, nil
}

func (uc *EscrowUseCase) settleOnce(
	ctx context.Context,
	escrowID string,
	state domain.EscrowState,
	authorize func(*domain.Escrow, time.Time) error,
) (*SettleResult, error) {
	txCtx, cancel := context.WithTimeout(ctx, DefaultTransactionTimeout)
	defer cancel()

	tx, err := uc.txManager.Begin(txCtx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(txCtx) }()

	escrow, err := uc.escrowRepo.GetByIDForUpdate(txCtx, tx, escrowID)
	if err != nil {
		return nil, err
	}

	now := uc.now().UTC()
	if err := authorize(escrow, now); err != nil {
		return nil, err
	}
	if err := escrow.Settle(state, now); err != nil {
		return nil, err
	}

	payee, err := uc.accountRepo.GetByIDForUpdate(txCtx, tx, escrow.Payee(state))
	if err != nil {
		return nil, err
	}

	newBalance := payee.ApplyCredit(escrow.Amount)
	if err := uc.accountRepo.UpdateBalance(txCtx, tx, payee.ID, newBalance, now); err != nil {
		return nil, err
	}
	if err := uc.escrowRepo.UpdateState(txCtx, tx, escrow.ID, state, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(txCtx); err != nil {
		return nil, err
	}

	return &SettleResult{Escrow: escrow, Payee: payee.ID, PayeeBalance: newBalance}, nil
}
