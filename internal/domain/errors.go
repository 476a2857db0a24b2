package domain

import "errors"

var (
	// Account errors
	ErrAccountNotFound   = errors.New("account not found")
	ErrAccountExists     = errors.New("account already exists")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrAlreadyLinked     = errors.New("account already has a different wallet linked")
	ErrWalletInUse       = errors.New("wallet is linked to another account")
	ErrWalletNotLinked   = errors.New("account has no linked wallet")

	// Payment errors
	ErrSameAccount   = errors.New("sender and recipient must differ")
	ErrInvalidAmount = errors.New("amount must be a positive integer")

	// Escrow errors
	ErrEscrowNotFound     = errors.New("escrow not found")
	ErrUnauthorized       = errors.New("requester is not allowed to perform this action")
	ErrInvalidEscrowState = errors.New("escrow is not held")
	ErrInvalidExpiration  = errors.New("invalid escrow expiration")

	// Deposit errors
	ErrDepositNotFound   = errors.New("deposit record not found")
	ErrAlreadyProcessed  = errors.New("transaction already processed")
	ErrTxNotFound        = errors.New("transaction not found on chain")
	ErrTxFailed          = errors.New("transaction failed on chain")
	ErrNoTransferEvent   = errors.New("transaction has no transfer event")
	ErrRecipientMismatch = errors.New("transfer recipient is not the platform wallet")
	ErrSenderMismatch    = errors.New("transfer sender does not match linked wallet")
	ErrDenomMismatch     = errors.New("transfer denom does not match claim")
	ErrAmountMismatch    = errors.New("transfer amount does not match claim")

	// Chain errors
	ErrExternalChainFailure = errors.New("external chain operation failed")
)
