package postgres

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/iho/transactai/internal/infrastructure/metrics"
)

// PostgreSQL error codes for retryable errors.
const (
	pgErrDeadlock             = "40P01"
	pgErrSerializationFailure = "40001"
	pgErrLockNotAvailable     = "55P03"
)

// Retrier implements usecase.Retrier with exponential backoff.
type Retrier struct {
	maxRetries      int
	initialInterval time.Duration
	maxInterval     time.Duration
	maxElapsedTime  time.Duration
	metrics         *metrics.Metrics
	logger          zerolog.Logger
}

// NewRetrier creates a retrier for ledger transactions. m may be nil.
func NewRetrier(m *metrics.Metrics, logger zerolog.Logger) *Retrier {
	return &Retrier{
		maxRetries:      3,
		initialInterval: 50 * time.Millisecond,
		maxInterval:     1 * time.Second,
		maxElapsedTime:  10 * time.Second,
		metrics:         m,
		logger:          logger.With().Str("component", "pg_retrier").Logger(),
	}
}

// Retry executes an operation with exponential backoff on retryable errors.
// Any other error, including domain errors, is returned at once.
func (r *Retrier) Retry(ctx context.Context, operation func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.initialInterval
	b.MaxInterval = r.maxInterval
	b.MaxElapsedTime = r.maxElapsedTime

	retryCount := 0

	return backoff.Retry(func() error {
		err := operation()
		if err == nil {
			return nil
		}

		if !isRetryableError(err) {
			return backoff.Permanent(err)
		}

		code := pgErrorCode(err)
		retryCount++
		if retryCount > r.maxRetries {
			r.observe(code, "exhausted")
			r.logger.Error().Err(err).Int("attempts", retryCount).Msg("ledger transaction kept conflicting, giving up")
			return backoff.Permanent(err)
		}

		r.observe(code, "retried")
		r.logger.Warn().Err(err).Str("code", code).Int("retry", retryCount).Msg("retryable database error, retrying")

		return err
	}, backoff.WithContext(b, ctx))
}

func (r *Retrier) observe(code, outcome string) {
	if r.metrics == nil {
		return
	}
	r.metrics.StorageRetries.WithLabelValues(code, outcome).Inc()
}

// isRetryableError checks if a PostgreSQL error should trigger a retry.
func isRetryableError(err error) bool {
	switch pgErrorCode(err) {
	case pgErrDeadlock, pgErrSerializationFailure, pgErrLockNotAvailable:
		return true
	}
	return false
}
