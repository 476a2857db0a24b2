package dto

import (
	"errors"
	"testing"

	"github.com/iho/transactai/internal/domain"
)

func TestChainTransferRequest_Validate(t *testing.T) {
	valid := ChainTransferRequest{TxHash: "ABC123", Sender: "fetch1alice", Amount: "100", Denom: "atestfet"}

	amount, err := valid.Validate()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if amount.String() != "100" {
		t.Fatalf("expected amount 100, got %s", amount)
	}

	tests := []struct {
		name    string
		mutate  func(r *ChainTransferRequest)
		wantErr error
	}{
		{"missing hash", func(r *ChainTransferRequest) { r.TxHash = "" }, domain.ErrInvalidTxHash},
		{"missing sender", func(r *ChainTransferRequest) { r.Sender = "" }, domain.ErrInvalidWallet},
		{"bad denom", func(r *ChainTransferRequest) { r.Denom = "" }, domain.ErrInvalidDenom},
		{"fractional amount", func(r *ChainTransferRequest) { r.Amount = "1.5" }, domain.ErrInvalidAmount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid
			tt.mutate(&req)
			if _, err := req.Validate(); !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}
