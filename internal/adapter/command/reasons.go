package command

import (
	"errors"

	"github.com/iho/transactai/internal/domain"
)

// Failure reasons reported to agents.
const (
	ReasonInsufficientFunds    = "insufficient_funds"
	ReasonUnauthorized         = "unauthorized"
	ReasonInvalidEscrowState   = "invalid_escrow_state"
	ReasonEscrowNotFound       = "escrow_not_found"
	ReasonAlreadyLinked        = "already_linked"
	ReasonWalletInUse          = "wallet_in_use"
	ReasonNotRegistered        = "not_registered"
	ReasonAlreadyProcessed     = "already_processed"
	ReasonTxNotFound           = "tx_not_found"
	ReasonTxFailed             = "tx_failed"
	ReasonNoTransferEvent      = "no_transfer_event"
	ReasonRecipientMismatch    = "recipient_mismatch"
	ReasonSenderMismatch       = "sender_mismatch"
	ReasonWalletNotLinked      = "wallet_not_linked"
	ReasonDenomMismatch        = "denom_mismatch"
	ReasonAmountMismatch       = "amount_mismatch"
	ReasonExternalChainFailure = "external_chain_failure"
	ReasonInvalidRequest       = "invalid_request"
	ReasonUnknownCommand       = "unknown_command"
	ReasonInternalError        = "internal_error"
)

var reasons = []struct {
	err    error
	reason string
}{
	{domain.ErrInsufficientFunds, ReasonInsufficientFunds},
	{domain.ErrUnauthorized, ReasonUnauthorized},
	{domain.ErrInvalidEscrowState, ReasonInvalidEscrowState},
	{domain.ErrEscrowNotFound, ReasonEscrowNotFound},
	{domain.ErrAlreadyLinked, ReasonAlreadyLinked},
	{domain.ErrWalletInUse, ReasonWalletInUse},
	{domain.ErrAccountNotFound, ReasonNotRegistered},
	{domain.ErrAlreadyProcessed, ReasonAlreadyProcessed},
	{domain.ErrTxNotFound, ReasonTxNotFound},
	{domain.ErrTxFailed, ReasonTxFailed},
	{domain.ErrNoTransferEvent, ReasonNoTransferEvent},
	{domain.ErrRecipientMismatch, ReasonRecipientMismatch},
	{domain.ErrSenderMismatch, ReasonSenderMismatch},
	{domain.ErrWalletNotLinked, ReasonWalletNotLinked},
	{domain.ErrDenomMismatch, ReasonDenomMismatch},
	{domain.ErrAmountMismatch, ReasonAmountMismatch},
	{domain.ErrExternalChainFailure, ReasonExternalChainFailure},
	{errInvalidRequest, ReasonInvalidRequest},
	{domain.ErrInvalidAmount, ReasonInvalidRequest},
	{domain.ErrSameAccount, ReasonInvalidRequest},
	{domain.ErrInvalidExpiration, ReasonInvalidRequest},
	{domain.ErrInvalidAddress, ReasonInvalidRequest},
	{domain.ErrInvalidWallet, ReasonInvalidRequest},
	{domain.ErrInvalidReference, ReasonInvalidRequest},
	{domain.ErrInvalidDenom, ReasonInvalidRequest},
	{domain.ErrInvalidTxHash, ReasonInvalidRequest},
}

// Reason maps an error onto the reason reported to agents.
func Reason(err error) string {
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.reason
		}
	}
	return ReasonInternalError
}
