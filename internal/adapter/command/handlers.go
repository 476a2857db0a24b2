package command

import (
	"context"

	"github.com/iho/transactai/internal/domain"
	"github.com/iho/transactai/internal/usecase"
)

func (r *Router) register(ctx context.Context, sender string, _ request) (*Reply, error) {
	acc, err := r.uc.Accounts.Register(ctx, sender)
	if err != nil {
		return nil, err
	}
	return &Reply{Response: map[string]string{
		KeyStatus:  StatusSuccess,
		KeyBalance: formatAmount(acc.Balance),
	}}, nil
}

func (r *Router) registerWallet(ctx context.Context, sender string, req request) (*Reply, error) {
	wallet, err := req.required("wallet_address")
	if err != nil {
		return nil, err
	}
	acc, err := r.uc.Accounts.RegisterWallet(ctx, sender, wallet)
	if err != nil {
		return nil, err
	}
	return &Reply{Response: map[string]string{
		KeyStatus:        StatusSuccess,
		"wallet_address": acc.WalletAddress,
	}}, nil
}

func (r *Router) balance(ctx context.Context, sender string, _ request) (*Reply, error) {
	acc, err := r.uc.Accounts.GetAccount(ctx, sender)
	if err != nil {
		return nil, err
	}
	resp := map[string]string{
		KeyStatus:  StatusSuccess,
		KeyBalance: formatAmount(acc.Balance),
	}
	if acc.HasWallet() {
		resp["wallet_address"] = acc.WalletAddress
	}
	return &Reply{Response: resp}, nil
}

func (r *Router) payment(ctx context.Context, sender string, req request) (*Reply, error) {
	recipient, err := req.required("recipient")
	if err != nil {
		return nil, err
	}
	amount, err := req.amount("amount")
	if err != nil {
		return nil, err
	}
	reference, err := req.required("reference")
	if err != nil {
		return nil, err
	}

	res, err := r.uc.Payments.Transfer(ctx, usecase.TransferInput{
		Sender:    sender,
		Recipient: recipient,
		Amount:    amount,
		Reference: reference,
	})
	if err != nil {
		return nil, err
	}

	return &Reply{
		Response: map[string]string{
			KeyStatus:   StatusSuccess,
			"recipient": res.Recipient,
			"amount":    formatAmount(res.Amount),
			"reference": res.Reference,
			KeyBalance:  formatAmount(res.SenderBalance),
		},
		Notifications: []Outbound{{
			To: res.Recipient,
			Metadata: map[string]string{
				KeyType:     "payment_received",
				KeyStatus:   StatusSuccess,
				"sender":    res.Sender,
				"amount":    formatAmount(res.Amount),
				"reference": res.Reference,
				KeyBalance:  formatAmount(res.RecipientBalance),
			},
		}},
	}, nil
}

func (r *Router) createEscrow(ctx context.Context, sender string, req request) (*Reply, error) {
	recipient, err := req.required("recipient")
	if err != nil {
		return nil, err
	}
	amount, err := req.amount("amount")
	if err != nil {
		return nil, err
	}
	reference, err := req.required("reference")
	if err != nil {
		return nil, err
	}
	ttl, err := req.seconds("expiration")
	if err != nil {
		return nil, err
	}

	res, err := r.uc.Escrows.CreateEscrow(ctx, usecase.CreateEscrowInput{
		Sender:    sender,
		Recipient: recipient,
		Amount:    amount,
		Reference: reference,
		TTL:       ttl,
	})
	if err != nil {
		return nil, err
	}

	e := res.Escrow
	return &Reply{
		Response: map[string]string{
			KeyStatus:    "created",
			"escrow_id":  e.ID,
			"recipient":  e.Recipient,
			"amount":     formatAmount(e.Amount),
			"reference":  e.Reference,
			"expiration": formatTime(e.ExpiresAt),
			KeyBalance:   formatAmount(res.SenderBalance),
		},
		Notifications: []Outbound{{
			To: e.Recipient,
			Metadata: map[string]string{
				KeyType:      "escrow_notification",
				KeyStatus:    "created",
				"escrow_id":  e.ID,
				"sender":     e.Sender,
				"amount":     formatAmount(e.Amount),
				"reference":  e.Reference,
				"expiration": formatTime(e.ExpiresAt),
			},
		}},
	}, nil
}

func (r *Router) releaseEscrow(ctx context.Context, sender string, req request) (*Reply, error) {
	id, err := req.required("escrow_id")
	if err != nil {
		return nil, err
	}

	res, err := r.uc.Escrows.ReleaseEscrow(ctx, id, sender)
	if err != nil {
		return nil, err
	}

	e := res.Escrow
	return &Reply{
		Response: map[string]string{
			KeyStatus:   string(domain.EscrowStateReleased),
			"escrow_id": e.ID,
			"recipient": e.Recipient,
			"amount":    formatAmount(e.Amount),
		},
		Notifications: []Outbound{{
			To: e.Recipient,
			Metadata: map[string]string{
				KeyType:     "escrow_update",
				KeyStatus:   string(domain.EscrowStateReleased),
				"escrow_id": e.ID,
				"sender":    e.Sender,
				"amount":    formatAmount(e.Amount),
				KeyBalance:  formatAmount(res.PayeeBalance),
			},
		}},
	}, nil
}

func (r *Router) escrowStatus(ctx context.Context, sender string, req request) (*Reply, error) {
	id, err := req.required("escrow_id")
	if err != nil {
		return nil, err
	}

	e, err := r.uc.Escrows.GetEscrow(ctx, id)
	if err != nil {
		return nil, err
	}
	if sender != e.Sender && sender != e.Recipient {
		return nil, domain.ErrUnauthorized
	}

	return &Reply{Response: map[string]string{
		KeyStatus:    StatusSuccess,
		"escrow_id":  e.ID,
		"state":      string(e.State),
		"sender":     e.Sender,
		"recipient":  e.Recipient,
		"amount":     formatAmount(e.Amount),
		"reference":  e.Reference,
		"expiration": formatTime(e.ExpiresAt),
	}}, nil
}

func (r *Router) deposit(ctx context.Context, sender string, req request) (*Reply, error) {
	txHash, err := req.required("tx_hash")
	if err != nil {
		return nil, err
	}
	amount, err := req.amount("amount")
	if err != nil {
		return nil, err
	}
	denom, err := req.required("denom")
	if err != nil {
		return nil, err
	}

	res, err := r.uc.Deposits.SubmitDeposit(ctx, usecase.SubmitDepositInput{
		AccountID: sender,
		TxHash:    txHash,
		Amount:    amount,
		Denom:     denom,
	})
	if err != nil {
		return nil, err
	}

	return &Reply{Response: depositMetadata(res)}, nil
}

// depositMetadata renders a confirmed or pending deposit.
func depositMetadata(res *usecase.DepositResult) map[string]string {
	rec := res.Record
	md := map[string]string{
		"tx_hash": rec.TxHash,
		"amount":  formatAmount(rec.Amount),
		"denom":   rec.Denom,
	}
	if rec.Status == domain.DepositStatusConfirmed {
		md[KeyStatus] = StatusSuccess
		md[KeyBalance] = formatAmount(res.Balance)
		return md
	}
	md[KeyStatus] = string(domain.DepositStatusPending)
	md[KeyReason] = rec.Progress()
	return md
}

func (r *Router) withdraw(ctx context.Context, sender string, req request) (*Reply, error) {
	amount, err := req.amount("amount")
	if err != nil {
		return nil, err
	}
	wallet, err := req.required("wallet_address")
	if err != nil {
		return nil, err
	}
	denom, err := req.required("denom")
	if err != nil {
		return nil, err
	}

	res, err := r.uc.Withdrawals.Withdraw(ctx, usecase.WithdrawInput{
		AccountID:   sender,
		Amount:      amount,
		Destination: wallet,
		Denom:       denom,
	})
	if err != nil {
		return nil, err
	}

	return &Reply{Response: map[string]string{
		KeyStatus:        StatusSuccess,
		"amount":         formatAmount(res.Withdrawal.Amount),
		"denom":          res.Withdrawal.Denom,
		"wallet_address": res.Withdrawal.Destination,
		"tx_hash":        res.TxHash,
		KeyBalance:       formatAmount(res.Balance),
		KeyMessage:       "withdrawal of " + formatAmount(res.Withdrawal.Amount) + res.Withdrawal.Denom + " sent to " + res.Withdrawal.Destination,
	}}, nil
}
