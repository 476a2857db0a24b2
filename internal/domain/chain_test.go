package domain

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestChainTransaction_MatchDeposit(t *testing.T) {
	claim := DepositClaim{
		PlatformWallet: "fetch1platform",
		SenderWallet:   "fetch1alice",
		Amount:         decimal.NewFromInt(100),
		Denom:          "atestfet",
	}
	good := ChainTransfer{Sender: "fetch1alice", Recipient: "fetch1platform", Amount: decimal.NewFromInt(100), Denom: "atestfet"}

	tests := []struct {
		name    string
		tx      ChainTransaction
		wantErr error
	}{
		{
			name: "matching transfer",
			tx:   ChainTransaction{Transfers: []ChainTransfer{good}},
		},
		{
			name: "matching transfer among others",
			tx: ChainTransaction{Transfers: []ChainTransfer{
				{Sender: "fetch1alice", Recipient: "fetch1fees", Amount: decimal.NewFromInt(1), Denom: "atestfet"},
				good,
			}},
		},
		{
			name:    "failed tx",
			tx:      ChainTransaction{Code: 5, Transfers: []ChainTransfer{good}},
			wantErr: ErrTxFailed,
		},
		{
			name:    "no transfer events",
			tx:      ChainTransaction{},
			wantErr: ErrNoTransferEvent,
		},
		{
			name: "wrong recipient",
			tx: ChainTransaction{Transfers: []ChainTransfer{
				{Sender: "fetch1alice", Recipient: "fetch1other", Amount: decimal.NewFromInt(100), Denom: "atestfet"},
			}},
			wantErr: ErrRecipientMismatch,
		},
		{
			name: "wrong sender",
			tx: ChainTransaction{Transfers: []ChainTransfer{
				{Sender: "fetch1mallory", Recipient: "fetch1platform", Amount: decimal.NewFromInt(100), Denom: "atestfet"},
			}},
			wantErr: ErrSenderMismatch,
		},
		{
			name: "wrong denom",
			tx: ChainTransaction{Transfers: []ChainTransfer{
				{Sender: "fetch1alice", Recipient: "fetch1platform", Amount: decimal.NewFromInt(100), Denom: "uatom"},
			}},
			wantErr: ErrDenomMismatch,
		},
		{
			name: "wrong amount",
			tx: ChainTransaction{Transfers: []ChainTransfer{
				{Sender: "fetch1alice", Recipient: "fetch1platform", Amount: decimal.NewFromInt(99), Denom: "atestfet"},
			}},
			wantErr: ErrAmountMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			match, err := tt.tx.MatchDeposit(claim)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if match.Recipient != "fetch1platform" || !match.Amount.Equal(claim.Amount) {
				t.Fatalf("unexpected match: %+v", match)
			}
		})
	}
}

func TestChainTransaction_Confirmations(t *testing.T) {
	tx := ChainTransaction{Height: 10}
	if got := tx.Confirmations(12); got != 3 {
		t.Fatalf("expected 3 confirmations, got %d", got)
	}
	if got := tx.Confirmations(9); got != 0 {
		t.Fatalf("expected 0 confirmations below tx height, got %d", got)
	}
	if got := (&ChainTransaction{}).Confirmations(100); got != 0 {
		t.Fatalf("expected 0 confirmations for unmined tx, got %d", got)
	}
}

func TestDepositRecord_RejectionError(t *testing.T) {
	rec := &DepositRecord{Reason: ErrRecipientMismatch.Error(), Confirmations: 3, Required: 6}
	if err := rec.RejectionError(); !errors.Is(err, ErrRecipientMismatch) {
		t.Fatalf("expected ErrRecipientMismatch, got %v", err)
	}
	if rec.Progress() != "3/6" {
		t.Fatalf("expected progress 3/6, got %s", rec.Progress())
	}
	if !IsIntrinsicRejection(ErrTxFailed) || IsIntrinsicRejection(ErrAmountMismatch) {
		t.Fatal("unexpected intrinsic rejection classification")
	}
}

func TestLedgerTotals_Balanced(t *testing.T) {
	totals := LedgerTotals{
		Balances:          decimal.NewFromInt(70),
		HeldEscrow:        decimal.NewFromInt(0),
		ConfirmedDeposits: decimal.NewFromInt(100),
		Withdrawn:         decimal.NewFromInt(30),
	}
	if !totals.Balanced() {
		t.Fatalf("expected balanced totals: %+v", totals)
	}

	totals.HeldEscrow = decimal.NewFromInt(1)
	if totals.Balanced() {
		t.Fatal("expected imbalance")
	}
}
