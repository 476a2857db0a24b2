package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"

	"github.com/iho/transactai/internal/domain"
)

// ChainClient is the external blockchain ledger.
type ChainClient interface {
	// GetTransaction returns domain.ErrTxNotFound for unknown hashes.
	GetTransaction(ctx context.Context, hash string) (*domain.ChainTransaction, error)
	LatestHeight(ctx context.Context) (int64, error)
	// SendTokens pays out from the platform hot wallet.
	SendTokens(ctx context.Context, to string, amount decimal.Decimal, denom string) (string, error)
}

// ConfirmationWaiter polls a chain until a transaction is buried under
// enough blocks or the wait budget runs out.
type ConfirmationWaiter struct {
	chain           ChainClient
	initialInterval time.Duration
	maxInterval     time.Duration
}

// NewConfirmationWaiter creates a ConfirmationWaiter.
func NewConfirmationWaiter(chain ChainClient) *ConfirmationWaiter {
	return &ConfirmationWaiter{
		chain:           chain,
		initialInterval: 500 * time.Millisecond,
		maxInterval:     5 * time.Second,
	}
}

// Wait returns the transaction and its confirmation count. With a zero
// budget it checks exactly once. A short count is not an error.
func (w *ConfirmationWaiter) Wait(ctx context.Context, hash string, required int64, budget time.Duration) (*domain.ChainTransaction, int64, error) {
	var (
		tx    *domain.ChainTransaction
		confs int64
	)

	check := func() error {
		found, err := w.chain.GetTransaction(ctx, hash)
		if err != nil {
			return backoff.Permanent(err)
		}
		tx = found
		if !found.Succeeded() {
			return nil
		}

		latest, err := w.chain.LatestHeight(ctx)
		if err != nil {
			return backoff.Permanent(err)
		}
		confs = found.Confirmations(latest)
		if confs >= required {
			return nil
		}
		return errNotYetConfirmed
	}

	if budget <= 0 {
		if err := check(); err != nil && !errors.Is(err, errNotYetConfirmed) {
			return nil, 0, unwrapPermanent(err)
		}
		return tx, confs, nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.initialInterval
	b.MaxInterval = w.maxInterval
	b.MaxElapsedTime = budget

	err := backoff.Retry(check, backoff.WithContext(b, ctx))
	if err != nil && !errors.Is(err, errNotYetConfirmed) {
		return nil, 0, unwrapPermanent(err)
	}

	return tx, confs, nil
}

var errNotYetConfirmed = errors.New("not yet confirmed")

func unwrapPermanent(err error) error {
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Err
	}
	return err
}
