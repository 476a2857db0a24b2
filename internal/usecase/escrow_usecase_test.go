package usecase_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/iho/transactai/internal/domain"
	"github.com/iho/transactai/internal/usecase"
	"github.com/iho/transactai/internal/usecase/mocks"
)

func newEscrowUseCase(t *testing.T, l *testLedger, clock *fakeClock) *usecase.EscrowUseCase {
	t.Helper()
	return usecase.NewEscrowUseCase(
		l.txManager, l.accounts, l.escrows, mocks.NewMockIDGenerator(), l.metrics,
		usecase.WithEscrowClock(clock.Now),
		usecase.WithEscrowMaxTTL(24*time.Hour),
	)
}

func TestEscrowUseCase_CreateAndRelease(t *testing.T) {
	l := newTestLedger(t)
	clock := newFakeClock()
	uc := newEscrowUseCase(t, l, clock)
	ctx := context.Background()
	l.seed(t, "a", 100, "")

	created, err := uc.CreateEscrow(ctx, usecase.CreateEscrowInput{
		Sender: "a", Recipient: "b", Amount: amt(50), Reference: "job-7", TTL: time.Hour,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created.Escrow.ID != "mock-id-1" || created.Escrow.State != domain.EscrowStateHeld {
		t.Fatalf("unexpected escrow: %+v", created.Escrow)
	}
	if !created.Escrow.ExpiresAt.Equal(clock.Now().Add(time.Hour)) {
		t.Fatalf("unexpected expiry: %s", created.Escrow.ExpiresAt)
	}
	if !created.SenderBalance.Equal(amt(50)) {
		t.Fatalf("expected sender balance 50, got %s", created.SenderBalance)
	}
	l.assertBalance(t, "b", 0)

	if _, err := uc.ReleaseEscrow(ctx, created.Escrow.ID, "b"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for recipient release, got %v", err)
	}

	settled, err := uc.ReleaseEscrow(ctx, created.Escrow.ID, "a")
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if settled.Payee != "b" || !settled.PayeeBalance.Equal(amt(50)) {
		t.Fatalf("unexpected settle result: %+v", settled)
	}
	l.assertBalance(t, "a", 50)
	l.assertBalance(t, "b", 50)

	if _, err := uc.ReleaseEscrow(ctx, created.Escrow.ID, "a"); !errors.Is(err, domain.ErrInvalidEscrowState) {
		t.Fatalf("expected ErrInvalidEscrowState on second release, got %v", err)
	}

	stored, err := uc.GetEscrow(ctx, created.Escrow.ID)
	if err != nil {
		t.Fatalf("get escrow: %v", err)
	}
	if stored.State != domain.EscrowStateReleased || stored.SettledAt == nil {
		t.Fatalf("unexpected stored escrow: %+v", stored)
	}
}

func TestEscrowUseCase_CreateErrors(t *testing.T) {
	tests := []struct {
		name    string
		input   usecase.CreateEscrowInput
		wantErr error
	}{
		{"insufficient funds", usecase.CreateEscrowInput{Sender: "a", Recipient: "b", Amount: amt(101), TTL: time.Hour}, domain.ErrInsufficientFunds},
		{"zero ttl", usecase.CreateEscrowInput{Sender: "a", Recipient: "b", Amount: amt(1)}, domain.ErrInvalidExpiration},
		{"ttl beyond cap", usecase.CreateEscrowInput{Sender: "a", Recipient: "b", Amount: amt(1), TTL: 48 * time.Hour}, domain.ErrInvalidExpiration},
		{"self escrow", usecase.CreateEscrowInput{Sender: "a", Recipient: "a", Amount: amt(1), TTL: time.Hour}, domain.ErrSameAccount},
		{"zero amount", usecase.CreateEscrowInput{Sender: "a", Recipient: "b", Amount: amt(0), TTL: time.Hour}, domain.ErrInvalidAmount},
		{"unknown sender", usecase.CreateEscrowInput{Sender: "ghost", Recipient: "b", Amount: amt(1), TTL: time.Hour}, domain.ErrAccountNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newTestLedger(t)
			l.seed(t, "a", 100, "")
			uc := newEscrowUseCase(t, l, newFakeClock())

			if _, err := uc.CreateEscrow(context.Background(), tt.input); !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			l.assertBalance(t, "a", 100)

			totals, _ := l.ledger.Totals(context.Background())
			if !totals.HeldEscrow.IsZero() {
				t.Fatalf("failed create left held funds: %s", totals.HeldEscrow)
			}
		})
	}
}

func TestEscrowUseCase_ExpireDue(t *testing.T) {
	l := newTestLedger(t)
	clock := newFakeClock()
	uc := newEscrowUseCase(t, l, clock)
	ctx := context.Background()
	l.seed(t, "a", 100, "")

	short, _ := uc.CreateEscrow(ctx, usecase.CreateEscrowInput{Sender: "a", Recipient: "b", Amount: amt(10), TTL: time.Minute})
	long, _ := uc.CreateEscrow(ctx, usecase.CreateEscrowInput{Sender: "a", Recipient: "b", Amount: amt(20), TTL: time.Hour})

	if _, err := uc.RefundExpired(ctx, short.Escrow.ID); !errors.Is(err, domain.ErrInvalidEscrowState) {
		t.Fatalf("expected unexpired refund to fail, got %v", err)
	}

	clock.Advance(time.Minute)

	refunded, err := uc.ExpireDue(ctx)
	if err != nil {
		t.Fatalf("expire due: %v", err)
	}
	if len(refunded) != 1 || refunded[0].Escrow.ID != short.Escrow.ID || refunded[0].Payee != "a" {
		t.Fatalf("unexpected sweep result: %+v", refunded)
	}
	l.assertBalance(t, "a", 80)

	again, _ := uc.ExpireDue(ctx)
	if len(again) != 0 {
		t.Fatalf("sweep must not refund twice, got %d", len(again))
	}

	stored, _ := uc.GetEscrow(ctx, long.Escrow.ID)
	if stored.State != domain.EscrowStateHeld {
		t.Fatalf("unexpired escrow touched: %s", stored.State)
	}
}

func TestEscrowUseCase_ReleaseAfterExpiryBeforeSweep(t *testing.T) {
	l := newTestLedger(t)
	clock := newFakeClock()
	uc := newEscrowUseCase(t, l, clock)
	ctx := context.Background()
	l.seed(t, "a", 100, "")

	created, _ := uc.CreateEscrow(ctx, usecase.CreateEscrowInput{Sender: "a", Recipient: "b", Amount: amt(40), TTL: time.Minute})
	clock.Advance(2 * time.Minute)

	if _, err := uc.ReleaseEscrow(ctx, created.Escrow.ID, "a"); err != nil {
		t.Fatalf("release after expiry should succeed until swept: %v", err)
	}
	refunded, _ := uc.ExpireDue(ctx)
	if len(refunded) != 0 {
		t.Fatalf("released escrow must not be refunded")
	}
	l.assertBalance(t, "b", 40)
}

func TestEscrowUseCase_ReleaseRefundRace(t *testing.T) {
	for round := 0; round < 20; round++ {
		l := newTestLedger(t)
		clock := newFakeClock()
		uc := newEscrowUseCase(t, l, clock)
		ctx := context.Background()
		l.seed(t, "a", 100, "")

		created, err := uc.CreateEscrow(ctx, usecase.CreateEscrowInput{Sender: "a", Recipient: "b", Amount: amt(100), TTL: time.Minute})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		clock.Advance(time.Minute)

		var (
			wg                    sync.WaitGroup
			releaseErr, refundErr error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, releaseErr = uc.ReleaseEscrow(ctx, created.Escrow.ID, "a")
		}()
		go func() {
			defer wg.Done()
			_, refundErr = uc.RefundExpired(ctx, created.Escrow.ID)
		}()
		wg.Wait()

		if (releaseErr == nil) == (refundErr == nil) {
			t.Fatalf("exactly one settlement must win: release=%v refund=%v", releaseErr, refundErr)
		}
		total := l.balance(t, "a").Add(l.balance(t, "b"))
		if !total.Equal(amt(100)) {
			t.Fatalf("escrow paid out %s, expected 100", total)
		}
	}
}

func TestEscrowUseCase_NotFound(t *testing.T) {
	l := newTestLedger(t)
	uc := newEscrowUseCase(t, l, newFakeClock())

	if _, err := uc.ReleaseEscrow(context.Background(), "nope", "a"); !errors.Is(err, domain.ErrEscrowNotFound) {
		t.Fatalf("expected ErrEscrowNotFound, got %v", err)
	}
	if _, err := uc.GetEscrow(context.Background(), "nope"); !errors.Is(err, domain.ErrEscrowNotFound) {
		t.Fatalf("expected ErrEscrowNotFound, got %v", err)
	}
}
