package usecase

import "time"

const (
	// DefaultTransactionTimeout is the maximum duration for a database transaction
	// This prevents long-running transactions from blocking tables
	DefaultTransactionTimeout = 10 * time.Second

	// DefaultConfirmations is the deposit confirmation threshold.
	DefaultConfirmations = 6

	// DefaultEscrowMaxTTL caps how far in the future an escrow may expire.
	DefaultEscrowMaxTTL = 30 * 24 * time.Hour

	// SweepBatchSize bounds how many expired escrows one sweep settles.
	SweepBatchSize = 500

	// RecheckBatchSize bounds how many pending deposits one recheck visits.
	RecheckBatchSize = 100
)
