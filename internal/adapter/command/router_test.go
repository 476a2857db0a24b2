package command

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iho/transactai/internal/adapter/chain"
	"github.com/iho/transactai/internal/adapter/repository/memory"
	"github.com/iho/transactai/internal/infrastructure/idgen"
	"github.com/iho/transactai/internal/infrastructure/metrics"
	"github.com/iho/transactai/internal/usecase"
)

const (
	platformWallet = "fetch1platform"
	agentA         = "agent1qa"
	agentB         = "agent1qb"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	router  *Router
	chain   *chain.Simulated
	clock   *clock
	recon   *usecase.ReconciliationUseCase
	metrics *metrics.Metrics
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	store := memory.NewStore()
	txm := memory.NewTxManager(store)
	accounts := memory.NewAccountRepository(store)
	ledger := memory.NewLedgerRepository(store)
	sim := chain.NewSimulated(platformWallet)
	clk := &clock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	m := metrics.New(prometheus.NewRegistry())
	logger := zerolog.Nop()

	uc := UseCases{
		Accounts: usecase.NewAccountUseCase(txm, accounts, m),
		Payments: usecase.NewPaymentUseCase(txm, accounts, m),
		Escrows: usecase.NewEscrowUseCase(txm, accounts, memory.NewEscrowRepository(store), idgen.NewULIDGenerator(), m,
			usecase.WithEscrowClock(clk.Now), usecase.WithEscrowLogger(logger)),
		Deposits: usecase.NewDepositUseCase(txm, accounts, memory.NewDepositRepository(store), sim,
			usecase.DepositConfig{PlatformWallet: platformWallet, Confirmations: 6}, m, logger),
		Withdrawals: usecase.NewWithdrawalUseCase(txm, accounts, ledger, sim,
			usecase.WithdrawalConfig{Denom: "atestfet"}, m, logger),
	}

	return &harness{
		router:  NewRouter(uc, m, logger),
		chain:   sim,
		clock:   clk,
		recon:   usecase.NewReconciliationUseCase(ledger, m),
		metrics: m,
	}
}

func (h *harness) send(t *testing.T, sender string, md map[string]string) Reply {
	t.Helper()
	return h.router.Dispatch(context.Background(), sender, md)
}

func (h *harness) fund(t *testing.T, agent, wallet, hash string, amount int64) {
	t.Helper()
	h.send(t, agent, map[string]string{"command": "register"})
	h.send(t, agent, map[string]string{"command": "register_wallet", "wallet_address": wallet})
	h.chain.AddTransfer(hash, wallet, platformWallet, decimal.NewFromInt(amount), "atestfet")
	h.chain.Mine(5)
	reply := h.send(t, agent, map[string]string{"command": "deposit", "tx_hash": hash, "amount": decimal.NewFromInt(amount).String(), "denom": "atestfet"})
	require.Equal(t, StatusSuccess, reply.Response[KeyStatus], reply.Response)
}

func TestRouter_EndToEndScenario(t *testing.T) {
	h := newHarness(t)

	reply := h.send(t, agentA, map[string]string{"command": "register"})
	assert.Equal(t, map[string]string{"type": "register_response", "status": "success", "balance": "0"}, reply.Response)

	reply = h.send(t, agentA, map[string]string{"command": "register_wallet", "wallet_address": "fetch1A"})
	assert.Equal(t, "register_wallet_response", reply.Response["type"])
	assert.Equal(t, "success", reply.Response["status"])
	assert.Equal(t, "fetch1A", reply.Response["wallet_address"])

	h.chain.AddTransfer("D1", "fetch1A", platformWallet, decimal.NewFromInt(100), "atestfet")
	h.chain.Mine(5)

	reply = h.send(t, agentA, map[string]string{"command": "deposit", "tx_hash": "D1", "amount": "100", "denom": "atestfet"})
	assert.Equal(t, map[string]string{
		"type": "deposit_response", "status": "success", "amount": "100", "denom": "atestfet", "balance": "100", "tx_hash": "D1",
	}, reply.Response)

	reply = h.send(t, agentA, map[string]string{"command": "payment", "recipient": agentB, "amount": "30", "reference": "rent"})
	assert.Equal(t, "payment_confirmation", reply.Response["type"])
	assert.Equal(t, "success", reply.Response["status"])
	assert.Equal(t, agentB, reply.Response["recipient"])
	assert.Equal(t, "30", reply.Response["amount"])
	assert.Equal(t, "70", reply.Response["balance"])
	require.Len(t, reply.Notifications, 1)
	assert.Equal(t, agentB, reply.Notifications[0].To)
	assert.Equal(t, "payment_received", reply.Notifications[0].Metadata["type"])
	assert.Equal(t, "30", reply.Notifications[0].Metadata["balance"])
	assert.Equal(t, "rent", reply.Notifications[0].Metadata["reference"])

	reply = h.send(t, agentA, map[string]string{"command": "escrow", "recipient": agentB, "amount": "20", "reference": "job", "expiration": "5"})
	assert.Equal(t, "escrow_confirmation", reply.Response["type"])
	assert.Equal(t, "created", reply.Response["status"])
	assert.Equal(t, h.clock.Now().Add(5*time.Second).Format(time.RFC3339), reply.Response["expiration"])
	escrowID := reply.Response["escrow_id"]
	require.NotEmpty(t, escrowID)
	require.Len(t, reply.Notifications, 1)
	assert.Equal(t, "escrow_notification", reply.Notifications[0].Metadata["type"])
	assert.Equal(t, agentB, reply.Notifications[0].To)

	assert.Equal(t, "50", h.send(t, agentA, map[string]string{"command": "balance"}).Response["balance"])
	assert.Equal(t, "held", h.send(t, agentB, map[string]string{"command": "escrow_status", "escrow_id": escrowID}).Response["state"])

	h.clock.Advance(6 * time.Second)
	notifications, err := h.router.SweepExpired(context.Background())
	require.NoError(t, err)
	require.Len(t, notifications, 2)
	assert.Equal(t, Outbound{To: agentA, Metadata: map[string]string{
		"type": "escrow_update", "status": "refunded", "escrow_id": escrowID, "amount": "20", "balance": "70",
	}}, notifications[0])
	assert.Equal(t, Outbound{To: agentB, Metadata: map[string]string{
		"type": "escrow_update", "status": "expired", "escrow_id": escrowID, "amount": "20",
	}}, notifications[1])

	assert.Equal(t, "70", h.send(t, agentA, map[string]string{"command": "balance"}).Response["balance"])
	assert.Equal(t, "refunded", h.send(t, agentA, map[string]string{"command": "escrow_status", "escrow_id": escrowID}).Response["state"])

	reply = h.send(t, agentB, map[string]string{"command": "withdraw", "amount": "30", "wallet_address": "fetch1B", "denom": "atestfet"})
	assert.Equal(t, "withdraw_confirmation", reply.Response["type"])
	assert.Equal(t, "success", reply.Response["status"])
	assert.Equal(t, "0", reply.Response["balance"])
	assert.NotEmpty(t, reply.Response["tx_hash"])
	assert.NotEmpty(t, reply.Response["message"])

	sends := h.chain.Sends()
	require.Len(t, sends, 1)
	assert.Equal(t, "fetch1B", sends[0].To)

	require.NoError(t, h.recon.CheckLedgerConsistency(context.Background()))
}

func TestRouter_Failures(t *testing.T) {
	h := newHarness(t)
	h.fund(t, agentA, "fetch1A", "D1", 100)

	tests := []struct {
		name        string
		sender      string
		md          map[string]string
		wantType    string
		wantReason  string
		wantBalance string
	}{
		{"unknown command", agentA, map[string]string{"command": "teleport"}, "error", ReasonUnknownCommand, ""},
		{"missing command", agentA, map[string]string{}, "error", ReasonUnknownCommand, ""},
		{"insufficient funds", agentA, map[string]string{"command": "payment", "recipient": agentB, "amount": "101", "reference": "r"}, "payment_confirmation", ReasonInsufficientFunds, "100"},
		{"missing amount", agentA, map[string]string{"command": "payment", "recipient": agentB}, "payment_confirmation", ReasonInvalidRequest, "100"},
		{"fractional amount", agentA, map[string]string{"command": "payment", "recipient": agentB, "amount": "1.5"}, "payment_confirmation", ReasonInvalidRequest, "100"},
		{"pay self", agentA, map[string]string{"command": "payment", "recipient": agentA, "amount": "1", "reference": "r"}, "payment_confirmation", ReasonInvalidRequest, "100"},
		{"payment without reference", agentA, map[string]string{"command": "payment", "recipient": agentB, "amount": "1"}, "payment_confirmation", ReasonInvalidRequest, "100"},
		{"blank payment reference", agentA, map[string]string{"command": "payment", "recipient": agentB, "amount": "1", "reference": "  "}, "payment_confirmation", ReasonInvalidRequest, "100"},
		{"unregistered balance", "agent1qz", map[string]string{"command": "balance"}, "balance_response", ReasonNotRegistered, ""},
		{"bad expiration", agentA, map[string]string{"command": "escrow", "recipient": agentB, "amount": "1", "reference": "r", "expiration": "soon"}, "escrow_confirmation", ReasonInvalidRequest, "100"},
		{"escrow without reference", agentA, map[string]string{"command": "escrow", "recipient": agentB, "amount": "1", "expiration": "60"}, "escrow_confirmation", ReasonInvalidRequest, "100"},
		{"escrow insufficient", agentA, map[string]string{"command": "escrow", "recipient": agentB, "amount": "500", "reference": "r", "expiration": "60"}, "escrow_confirmation", ReasonInsufficientFunds, "100"},
		{"release unknown escrow", agentA, map[string]string{"command": "release_escrow", "escrow_id": "nope"}, "escrow_update", ReasonEscrowNotFound, "100"},
		{"relink other wallet", agentA, map[string]string{"command": "register_wallet", "wallet_address": "fetch1Z"}, "register_wallet_response", ReasonAlreadyLinked, "100"},
		{"deposit claimed by other", "agent1qz", map[string]string{"command": "deposit", "tx_hash": "D1", "amount": "100", "denom": "atestfet"}, "deposit_response", ReasonAlreadyProcessed, ""},
		{"unknown tx", agentA, map[string]string{"command": "deposit", "tx_hash": "NOPE", "amount": "1", "denom": "atestfet"}, "deposit_response", ReasonTxNotFound, "100"},
		{"withdraw wrong denom", agentA, map[string]string{"command": "withdraw", "amount": "1", "wallet_address": "fetch1A", "denom": "uatom"}, "withdraw_confirmation", ReasonDenomMismatch, "100"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply := h.send(t, tt.sender, tt.md)
			assert.Equal(t, tt.wantType, reply.Response[KeyType])
			assert.Equal(t, StatusFailed, reply.Response[KeyStatus])
			assert.Equal(t, tt.wantReason, reply.Response[KeyReason])
			assert.Equal(t, tt.wantBalance, reply.Response[KeyBalance])
			assert.Empty(t, reply.Notifications)
		})
	}
}

func TestRouter_DepositIdempotency(t *testing.T) {
	h := newHarness(t)
	h.fund(t, agentA, "fetch1A", "D1", 100)

	again := h.send(t, agentA, map[string]string{"command": "deposit", "tx_hash": "D1", "amount": "100", "denom": "atestfet"})
	assert.Equal(t, StatusSuccess, again.Response[KeyStatus])
	assert.Equal(t, "100", again.Response[KeyBalance])

	h.send(t, agentB, map[string]string{"command": "register"})
	h.send(t, agentB, map[string]string{"command": "register_wallet", "wallet_address": "fetch1B"})
	stolen := h.send(t, agentB, map[string]string{"command": "deposit", "tx_hash": "D1", "amount": "100", "denom": "atestfet"})
	assert.Equal(t, ReasonAlreadyProcessed, stolen.Response[KeyReason])
	assert.Equal(t, "0", stolen.Response[KeyBalance])
}

func TestRouter_PendingDepositRecheck(t *testing.T) {
	h := newHarness(t)
	h.send(t, agentA, map[string]string{"command": "register"})
	h.send(t, agentA, map[string]string{"command": "register_wallet", "wallet_address": "fetch1A"})
	h.chain.AddTransfer("D9", "fetch1A", platformWallet, decimal.NewFromInt(40), "atestfet")
	h.chain.Mine(1)

	reply := h.send(t, agentA, map[string]string{"command": "deposit", "tx_hash": "D9", "amount": "40", "denom": "atestfet"})
	assert.Equal(t, "pending_confirmation", reply.Response[KeyStatus])
	assert.Equal(t, "2/6", reply.Response[KeyReason])

	out, err := h.router.RecheckDeposits(context.Background())
	require.NoError(t, err)
	assert.Empty(t, out)

	h.chain.Mine(4)
	out, err = h.router.RecheckDeposits(context.Background())
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, agentA, out[0].To)
	assert.Equal(t, "deposit_response", out[0].Metadata[KeyType])
	assert.Equal(t, StatusSuccess, out[0].Metadata[KeyStatus])
	assert.Equal(t, "40", out[0].Metadata[KeyBalance])
}

func TestRouter_WithdrawalFailureRefunds(t *testing.T) {
	h := newHarness(t)
	h.fund(t, agentA, "fetch1A", "D1", 100)
	h.chain.FailNextSends(1)

	reply := h.send(t, agentA, map[string]string{"command": "withdraw", "amount": "60", "wallet_address": "fetch1A", "denom": "atestfet"})
	assert.Equal(t, ReasonExternalChainFailure, reply.Response[KeyReason])
	assert.Equal(t, "100", reply.Response[KeyBalance])
	require.NoError(t, h.recon.CheckLedgerConsistency(context.Background()))
}

func TestRouter_ReleaseEscrow(t *testing.T) {
	h := newHarness(t)
	h.fund(t, agentA, "fetch1A", "D1", 100)

	created := h.send(t, agentA, map[string]string{"command": "escrow", "recipient": agentB, "amount": "25", "reference": "job", "expiration": "3600"})
	id := created.Response["escrow_id"]

	denied := h.send(t, agentB, map[string]string{"command": "release_escrow", "escrow_id": id})
	assert.Equal(t, ReasonUnauthorized, denied.Response[KeyReason])

	released := h.send(t, agentA, map[string]string{"command": "release_escrow", "escrow_id": id})
	assert.Equal(t, "escrow_update", released.Response[KeyType])
	assert.Equal(t, "released", released.Response[KeyStatus])
	assert.Equal(t, id, released.Response["escrow_id"])
	require.Len(t, released.Notifications, 1)
	assert.Equal(t, "25", released.Notifications[0].Metadata[KeyBalance])

	again := h.send(t, agentA, map[string]string{"command": "release_escrow", "escrow_id": id})
	assert.Equal(t, ReasonInvalidEscrowState, again.Response[KeyReason])

	outsider := h.send(t, "agent1qc", map[string]string{"command": "escrow_status", "escrow_id": id})
	assert.Equal(t, ReasonUnauthorized, outsider.Response[KeyReason])
}

func TestRouter_RecoversFromPanics(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	router := NewRouter(UseCases{}, m, zerolog.Nop())

	reply := router.Dispatch(context.Background(), agentA, map[string]string{"command": "balance"})
	assert.Equal(t, "balance_response", reply.Response[KeyType])
	assert.Equal(t, ReasonInternalError, reply.Response[KeyReason])
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Commands.WithLabelValues("balance", StatusFailed)))
}
