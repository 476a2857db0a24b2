package usecase_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/iho/transactai/internal/adapter/repository/memory"
	"github.com/iho/transactai/internal/domain"
	"github.com/iho/transactai/internal/infrastructure/metrics"
)

const platformWallet = "fetch1platform"

// testLedger wires the in-memory store the way the server does.
type testLedger struct {
	store     *memory.Store
	txManager *memory.TxManager
	accounts  *memory.AccountRepository
	escrows   *memory.EscrowRepository
	deposits  *memory.DepositRepository
	ledger    *memory.LedgerRepository
	metrics   *metrics.Metrics
}

func newTestLedger(t *testing.T) *testLedger {
	t.Helper()
	store := memory.NewStore()
	return &testLedger{
		store:     store,
		txManager: memory.NewTxManager(store),
		accounts:  memory.NewAccountRepository(store),
		escrows:   memory.NewEscrowRepository(store),
		deposits:  memory.NewDepositRepository(store),
		ledger:    memory.NewLedgerRepository(store),
		metrics:   metrics.New(prometheus.NewRegistry()),
	}
}

// seed creates an account with a balance. Seeded balances are not backed by
// deposits, so tests that check conservation fund accounts via deposits.
func (l *testLedger) seed(t *testing.T, id string, balance int64, wallet string) {
	t.Helper()
	acc := domain.NewAccount(id, time.Now().UTC())
	acc.Balance = decimal.NewFromInt(balance)
	acc.WalletAddress = wallet
	if err := l.accounts.Create(context.Background(), acc); err != nil {
		t.Fatalf("seed %s: %v", id, err)
	}
}

func (l *testLedger) balance(t *testing.T, id string) decimal.Decimal {
	t.Helper()
	acc, err := l.accounts.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("get %s: %v", id, err)
	}
	return acc.Balance
}

func (l *testLedger) assertBalance(t *testing.T, id string, want int64) {
	t.Helper()
	if got := l.balance(t, id); !got.Equal(decimal.NewFromInt(want)) {
		t.Fatalf("balance of %s: expected %d, got %s", id, want, got)
	}
}

func amt(n int64) decimal.Decimal {
	return decimal.NewFromInt(n)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func transferTx(hash string, height int64, sender string, amount int64) *domain.ChainTransaction {
	return &domain.ChainTransaction{
		Hash:   hash,
		Height: height,
		Transfers: []domain.ChainTransfer{
			{Sender: sender, Recipient: platformWallet, Amount: amt(amount), Denom: "atestfet"},
		},
	}
}
