package command

import (
	"context"

	"github.com/iho/transactai/internal/domain"
)

// SweepExpired refunds due escrows and returns the notifications for both
// parties: refunded to the sender, expired to the recipient.
func (r *Router) SweepExpired(ctx context.Context) ([]Outbound, error) {
	results, err := r.uc.Escrows.ExpireDue(ctx)

	out := make([]Outbound, 0, 2*len(results))
	for _, res := range results {
		e := res.Escrow
		out = append(out,
			Outbound{To: e.Sender, Metadata: map[string]string{
				KeyType:     "escrow_update",
				KeyStatus:   string(domain.EscrowStateRefunded),
				"escrow_id": e.ID,
				"amount":    formatAmount(e.Amount),
				KeyBalance:  formatAmount(res.PayeeBalance),
			}},
			Outbound{To: e.Recipient, Metadata: map[string]string{
				KeyType:     "escrow_update",
				KeyStatus:   "expired",
				"escrow_id": e.ID,
				"amount":    formatAmount(e.Amount),
			}},
		)
		r.logger.Info().Str("escrow_id", e.ID).Str("sender", e.Sender).Msg("escrow expired and refunded")
	}

	return out, err
}

// RecheckDeposits re-evaluates pending deposits and returns a deposit_response
// for each one that reached a final state.
func (r *Router) RecheckDeposits(ctx context.Context) ([]Outbound, error) {
	results, err := r.uc.Deposits.RecheckPending(ctx)

	out := make([]Outbound, 0, len(results))
	for _, res := range results {
		rec := res.Record
		var md map[string]string
		if rec.Status == domain.DepositStatusRejected {
			md = map[string]string{
				KeyStatus:  StatusFailed,
				KeyReason:  Reason(rec.RejectionError()),
				KeyMessage: rec.Reason,
				"tx_hash":  rec.TxHash,
				"amount":   formatAmount(rec.Amount),
				"denom":    rec.Denom,
			}
		} else {
			md = depositMetadata(res)
		}
		md[KeyType] = "deposit_response"
		out = append(out, Outbound{To: rec.AccountID, Metadata: md})
	}

	return out, err
}
