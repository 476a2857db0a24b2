package usecase_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"go.uber.org/mock/gomock"

	"github.com/iho/transactai/internal/domain"
	"github.com/iho/transactai/internal/usecase"
	"github.com/iho/transactai/internal/usecase/mocks"
)

func newDepositUseCase(l *testLedger, chain usecase.ChainClient) *usecase.DepositUseCase {
	return usecase.NewDepositUseCase(
		l.txManager, l.accounts, l.deposits, chain,
		usecase.DepositConfig{PlatformWallet: platformWallet, Confirmations: 6},
		l.metrics, zerolog.Nop(),
	)
}

func depositInput(account, hash string, amount int64) usecase.SubmitDepositInput {
	return usecase.SubmitDepositInput{AccountID: account, TxHash: hash, Amount: amt(amount), Denom: "atestfet"}
}

func TestDepositUseCase_CreditsOnceAndReplays(t *testing.T) {
	ctrl := gomock.NewController(t)
	chain := mocks.NewMockChainClient(ctrl)
	l := newTestLedger(t)
	l.seed(t, "a", 0, "fetch1alice")
	uc := newDepositUseCase(l, chain)
	ctx := context.Background()

	chain.EXPECT().GetTransaction(gomock.Any(), "D1").Return(transferTx("D1", 10, "fetch1alice", 100), nil).Times(1)
	chain.EXPECT().LatestHeight(gomock.Any()).Return(int64(15), nil).Times(1)

	res, err := uc.SubmitDeposit(ctx, depositInput("a", "D1", 100))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Credited || res.Record.Status != domain.DepositStatusConfirmed || !res.Balance.Equal(amt(100)) {
		t.Fatalf("unexpected result: %+v", res)
	}

	replay, err := uc.SubmitDeposit(ctx, depositInput("a", "D1", 100))
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if replay.Credited || !replay.Balance.Equal(amt(100)) {
		t.Fatalf("replay must report the original balance without crediting: %+v", replay)
	}
	l.assertBalance(t, "a", 100)

	l.seed(t, "b", 0, "fetch1bob")
	if _, err := uc.SubmitDeposit(ctx, depositInput("b", "D1", 100)); !errors.Is(err, domain.ErrAlreadyProcessed) {
		t.Fatalf("expected ErrAlreadyProcessed, got %v", err)
	}

	totals, _ := l.ledger.Totals(ctx)
	if !totals.Balanced() {
		t.Fatalf("ledger unbalanced after deposit: %+v", totals)
	}
}

func TestDepositUseCase_ConcurrentSubmitCreditsOnce(t *testing.T) {
	ctrl := gomock.NewController(t)
	chain := mocks.NewMockChainClient(ctrl)
	l := newTestLedger(t)
	l.seed(t, "a", 0, "fetch1alice")
	uc := newDepositUseCase(l, chain)
	ctx := context.Background()

	chain.EXPECT().GetTransaction(gomock.Any(), "D9").Return(transferTx("D9", 10, "fetch1alice", 100), nil).AnyTimes()
	chain.EXPECT().LatestHeight(gomock.Any()).Return(int64(30), nil).AnyTimes()

	const workers = 50
	var (
		wg       sync.WaitGroup
		credited atomic.Int32
		failures atomic.Int32
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := uc.SubmitDeposit(ctx, depositInput("a", "D9", 100))
			if err != nil {
				failures.Add(1)
				return
			}
			if res.Credited {
				credited.Add(1)
			}
			if !res.Balance.Equal(amt(100)) {
				failures.Add(1)
			}
		}()
	}
	wg.Wait()

	if failures.Load() != 0 {
		t.Fatalf("%d submits failed or reported a wrong balance", failures.Load())
	}
	if credited.Load() != 1 {
		t.Fatalf("expected exactly one credit, got %d", credited.Load())
	}
	l.assertBalance(t, "a", 100)

	totals, _ := l.ledger.Totals(ctx)
	if !totals.Balanced() {
		t.Fatalf("ledger unbalanced after concurrent deposits: %+v", totals)
	}
}

func TestDepositUseCase_PendingThenConfirmed(t *testing.T) {
	ctrl := gomock.NewController(t)
	chain := mocks.NewMockChainClient(ctrl)
	l := newTestLedger(t)
	l.seed(t, "a", 0, "fetch1alice")
	uc := newDepositUseCase(l, chain)
	ctx := context.Background()

	chain.EXPECT().GetTransaction(gomock.Any(), "D2").Return(transferTx("D2", 10, "fetch1alice", 100), nil).Times(2)
	gomock.InOrder(
		chain.EXPECT().LatestHeight(gomock.Any()).Return(int64(12), nil),
		chain.EXPECT().LatestHeight(gomock.Any()).Return(int64(20), nil),
	)

	res, err := uc.SubmitDeposit(ctx, depositInput("a", "D2", 100))
	if err != nil {
		t.Fatalf("pending must not be an error: %v", err)
	}
	if res.Record.Status != domain.DepositStatusPending || res.Record.Progress() != "3/6" {
		t.Fatalf("unexpected pending record: %+v", res.Record)
	}
	l.assertBalance(t, "a", 0)

	res, err = uc.SubmitDeposit(ctx, depositInput("a", "D2", 100))
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if !res.Credited {
		t.Fatalf("expected credit on resubmit, got %+v", res.Record)
	}
	l.assertBalance(t, "a", 100)
}

func TestDepositUseCase_RecheckPending(t *testing.T) {
	ctrl := gomock.NewController(t)
	chain := mocks.NewMockChainClient(ctrl)
	l := newTestLedger(t)
	l.seed(t, "a", 0, "fetch1alice")
	uc := newDepositUseCase(l, chain)
	ctx := context.Background()

	chain.EXPECT().GetTransaction(gomock.Any(), "D3").Return(transferTx("D3", 10, "fetch1alice", 25), nil).AnyTimes()
	gomock.InOrder(
		chain.EXPECT().LatestHeight(gomock.Any()).Return(int64(10), nil),
		chain.EXPECT().LatestHeight(gomock.Any()).Return(int64(11), nil),
		chain.EXPECT().LatestHeight(gomock.Any()).Return(int64(15), nil),
	)

	if _, err := uc.SubmitDeposit(ctx, depositInput("a", "D3", 25)); err != nil {
		t.Fatalf("submit: %v", err)
	}

	finished, err := uc.RecheckPending(ctx)
	if err != nil || len(finished) != 0 {
		t.Fatalf("expected nothing finished yet, got %d (%v)", len(finished), err)
	}

	finished, err = uc.RecheckPending(ctx)
	if err != nil {
		t.Fatalf("recheck: %v", err)
	}
	if len(finished) != 1 || !finished[0].Credited {
		t.Fatalf("expected one credited deposit, got %+v", finished)
	}
	l.assertBalance(t, "a", 25)

	pending, _ := l.deposits.ListPending(ctx, 10)
	if len(pending) != 0 {
		t.Fatalf("expected no pending deposits, got %d", len(pending))
	}
}

func TestDepositUseCase_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		tx       *domain.ChainTransaction
		input    usecase.SubmitDepositInput
		wantErr  error
		recorded bool
	}{
		{
			name:     "failed transaction",
			tx:       &domain.ChainTransaction{Hash: "R1", Height: 1, Code: 5},
			input:    depositInput("a", "R1", 100),
			wantErr:  domain.ErrTxFailed,
			recorded: true,
		},
		{
			name:     "no transfers",
			tx:       &domain.ChainTransaction{Hash: "R2", Height: 1},
			input:    depositInput("a", "R2", 100),
			wantErr:  domain.ErrNoTransferEvent,
			recorded: true,
		},
		{
			name: "wrong recipient",
			tx: &domain.ChainTransaction{Hash: "R3", Height: 1, Transfers: []domain.ChainTransfer{
				{Sender: "fetch1alice", Recipient: "fetch1elsewhere", Amount: amt(100), Denom: "atestfet"},
			}},
			input:    depositInput("a", "R3", 100),
			wantErr:  domain.ErrRecipientMismatch,
			recorded: true,
		},
		{
			name:    "wrong sender",
			tx:      transferTx("R4", 1, "fetch1mallory", 100),
			input:   depositInput("a", "R4", 100),
			wantErr: domain.ErrSenderMismatch,
		},
		{
			name:    "wrong amount",
			tx:      transferTx("R5", 1, "fetch1alice", 99),
			input:   depositInput("a", "R5", 100),
			wantErr: domain.ErrAmountMismatch,
		},
		{
			name:    "wrong denom",
			tx:      transferTx("R6", 1, "fetch1alice", 100),
			input:   usecase.SubmitDepositInput{AccountID: "a", TxHash: "R6", Amount: amt(100), Denom: "afet"},
			wantErr: domain.ErrDenomMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			chain := mocks.NewMockChainClient(ctrl)
			l := newTestLedger(t)
			l.seed(t, "a", 0, "fetch1alice")
			uc := newDepositUseCase(l, chain)
			ctx := context.Background()

			chain.EXPECT().GetTransaction(gomock.Any(), tt.input.TxHash).Return(tt.tx, nil).Times(1)
			chain.EXPECT().LatestHeight(gomock.Any()).Return(int64(100), nil).AnyTimes()

			if _, err := uc.SubmitDeposit(ctx, tt.input); !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			l.assertBalance(t, "a", 0)

			rec, err := l.deposits.GetByTxHash(ctx, tt.input.TxHash)
			if !tt.recorded {
				if !errors.Is(err, domain.ErrDepositNotFound) {
					t.Fatalf("claim-specific rejection must not be recorded, got %+v", rec)
				}
				return
			}
			if err != nil || rec.Status != domain.DepositStatusRejected {
				t.Fatalf("expected rejected record, got %+v (%v)", rec, err)
			}

			// Replayed from the record without another chain lookup.
			if _, err := uc.SubmitDeposit(ctx, tt.input); !errors.Is(err, tt.wantErr) {
				t.Fatalf("replay: expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestDepositUseCase_Preconditions(t *testing.T) {
	ctrl := gomock.NewController(t)
	chain := mocks.NewMockChainClient(ctrl)
	l := newTestLedger(t)
	l.seed(t, "nowallet", 0, "")
	l.seed(t, "a", 0, "fetch1alice")
	uc := newDepositUseCase(l, chain)
	ctx := context.Background()

	if _, err := uc.SubmitDeposit(ctx, depositInput("nowallet", "X1", 1)); !errors.Is(err, domain.ErrWalletNotLinked) {
		t.Fatalf("expected ErrWalletNotLinked, got %v", err)
	}
	if _, err := uc.SubmitDeposit(ctx, depositInput("ghost", "X1", 1)); !errors.Is(err, domain.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
	if _, err := uc.SubmitDeposit(ctx, depositInput("a", "not a hash", 1)); !errors.Is(err, domain.ErrInvalidTxHash) {
		t.Fatalf("expected ErrInvalidTxHash, got %v", err)
	}

	chain.EXPECT().GetTransaction(gomock.Any(), "X2").Return(nil, domain.ErrTxNotFound)
	if _, err := uc.SubmitDeposit(ctx, depositInput("a", "X2", 1)); !errors.Is(err, domain.ErrTxNotFound) {
		t.Fatalf("expected ErrTxNotFound, got %v", err)
	}
	if _, err := l.deposits.GetByTxHash(ctx, "X2"); !errors.Is(err, domain.ErrDepositNotFound) {
		t.Fatal("unknown transaction must not be recorded")
	}

	chain.EXPECT().GetTransaction(gomock.Any(), "X3").Return(nil, errors.New("connection refused"))
	if _, err := uc.SubmitDeposit(ctx, depositInput("a", "X3", 1)); !errors.Is(err, domain.ErrExternalChainFailure) {
		t.Fatalf("expected ErrExternalChainFailure, got %v", err)
	}
}
