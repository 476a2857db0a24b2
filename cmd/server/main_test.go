package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"github.com/iho/transactai/internal/adapter/http/dto"
	"github.com/iho/transactai/internal/domain"
	"github.com/iho/transactai/internal/infrastructure/config"
	"github.com/iho/transactai/internal/infrastructure/metrics"
	"github.com/iho/transactai/internal/protocol"
)

const platform = "fetch1platform"

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("LEDGER_BACKEND", "memory")
	t.Setenv("CHAIN_MODE", "simulated")
	t.Setenv("CHAIN_BLOCK_INTERVAL", "0s")
	t.Setenv("PLATFORM_WALLET", platform)
	t.Setenv("DEPOSIT_MIN_CONFIRMATIONS", "3")
	t.Setenv("REDIS_URL", "")
	t.Setenv("AGENT_BOOK_PATH", "")
	cfg, err := config.Load()
	require.NoError(t, err)
	return cfg
}

type client struct {
	t       *testing.T
	srv     *httptest.Server
	agent   string
	target  string
	mailbox *websocket.Conn
}

func startApp(t *testing.T) (*app, *httptest.Server) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	cfg := testConfig(t)
	a, err := newApp(ctx, cfg, zerolog.Nop())
	require.NoError(t, err)
	a.run(ctx)

	srv := httptest.NewServer(a.handler)
	t.Cleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.shutdown(shutdownCtx)
		srv.Close()
	})
	return a, srv
}

func connect(t *testing.T, a *app, srv *httptest.Server, agent string) *client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/mailbox?address=" + agent
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })

	require.Eventually(t, func() bool { return a.mailbox.Connected(agent) }, 2*time.Second, 10*time.Millisecond)
	return &client{t: t, srv: srv, agent: agent, target: a.cfg.AgentAddress, mailbox: conn}
}

// send submits a command and returns the response delivered to the mailbox.
func (c *client) send(md map[string]string) map[string]string {
	c.t.Helper()
	msg := protocol.NewMetadataMessage(time.Now(), md)
	env, err := protocol.Seal(c.agent, c.target, msg.MsgID.String(), msg)
	require.NoError(c.t, err)

	body, err := json.Marshal(env)
	require.NoError(c.t, err)
	resp, err := http.Post(c.srv.URL+"/submit", "application/json", bytes.NewReader(body))
	require.NoError(c.t, err)
	defer resp.Body.Close()
	require.Equal(c.t, http.StatusOK, resp.StatusCode)

	var ackEnv protocol.Envelope
	require.NoError(c.t, json.NewDecoder(resp.Body).Decode(&ackEnv))
	ack, err := ackEnv.Acknowledgement()
	require.NoError(c.t, err)
	require.Equal(c.t, msg.MsgID, ack.AcknowledgedMsgID)

	return c.next()
}

// next reads the next metadata message from the mailbox.
func (c *client) next() map[string]string {
	c.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := c.mailbox.Read(ctx)
	require.NoError(c.t, err)

	var env protocol.Envelope
	require.NoError(c.t, json.Unmarshal(data, &env))
	msg, err := env.Message()
	require.NoError(c.t, err)
	md, err := msg.Metadata()
	require.NoError(c.t, err)
	return md
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestServer_DepositPayAndWithdraw(t *testing.T) {
	a, srv := startApp(t)
	alice := connect(t, a, srv, "agent1alice")
	bob := connect(t, a, srv, "agent1bob")

	resp := alice.send(map[string]string{"command": "register"})
	assert.Equal(t, "register_response", resp["type"])
	assert.Equal(t, "success", resp["status"])

	resp = alice.send(map[string]string{"command": "register_wallet", "wallet_address": "fetch1alice"})
	require.Equal(t, "success", resp["status"], resp)

	tr := postJSON(t, srv.URL+"/dev/chain/transfers", dto.ChainTransferRequest{
		TxHash: "DEP1", Sender: "fetch1alice", Amount: "1000", Denom: "atestfet",
	})
	require.Equal(t, http.StatusCreated, tr.StatusCode)
	require.Equal(t, http.StatusOK, postJSON(t, srv.URL+"/dev/chain/mine", dto.MineRequest{Blocks: 3}).StatusCode)

	resp = alice.send(map[string]string{"command": "deposit", "tx_hash": "DEP1", "amount": "1000", "denom": "atestfet"})
	require.Equal(t, "success", resp["status"], resp)
	assert.Equal(t, "1000", resp["balance"])

	resp = alice.send(map[string]string{"command": "payment", "recipient": "agent1bob", "amount": "300", "reference": "job-42"})
	require.Equal(t, "payment_confirmation", resp["type"])
	assert.Equal(t, "700", resp["balance"])

	note := bob.next()
	assert.Equal(t, "payment_received", note["type"])
	assert.Equal(t, "300", note["balance"])

	resp = bob.send(map[string]string{"command": "withdraw", "amount": "100", "wallet_address": "fetch1bob", "denom": "atestfet"})
	require.Equal(t, "success", resp["status"], resp)
	assert.Equal(t, "200", resp["balance"])
	require.Len(t, a.sim.Sends(), 1)

	resp = alice.send(map[string]string{"command": "deposit", "tx_hash": "DEP1", "amount": "1000", "denom": "atestfet"})
	assert.Equal(t, "failed", resp["status"])
	assert.Equal(t, "already_processed", resp["reason"])

	report, err := http.Get(srv.URL + "/ledger/consistency")
	require.NoError(t, err)
	defer report.Body.Close()
	require.Equal(t, http.StatusOK, report.StatusCode)

	var consistency dto.ConsistencyResponse
	require.NoError(t, json.NewDecoder(report.Body).Decode(&consistency))
	assert.True(t, consistency.Consistent)
	assert.Equal(t, "900", consistency.Balances)
	assert.Equal(t, "100", consistency.Withdrawn)
}

func TestServer_EscrowLifecycle(t *testing.T) {
	a, srv := startApp(t)
	alice := connect(t, a, srv, "agent1alice")
	bob := connect(t, a, srv, "agent1bob")

	alice.send(map[string]string{"command": "register"})
	alice.send(map[string]string{"command": "register_wallet", "wallet_address": "fetch1alice"})
	a.sim.AddTransfer("DEP2", "fetch1alice", platform, mustAmount(t, "500"), "atestfet")
	a.sim.Mine(5)
	resp := alice.send(map[string]string{"command": "deposit", "tx_hash": "DEP2", "amount": "500", "denom": "atestfet"})
	require.Equal(t, "success", resp["status"], resp)

	resp = alice.send(map[string]string{"command": "escrow", "recipient": "agent1bob", "amount": "200", "reference": "job-43", "expiration": "3600"})
	require.Equal(t, "created", resp["status"], resp)
	assert.Equal(t, "300", resp["balance"])
	escrowID := resp["escrow_id"]

	note := bob.next()
	assert.Equal(t, "escrow_notification", note["type"])
	assert.Equal(t, escrowID, note["escrow_id"])

	resp = bob.send(map[string]string{"command": "release_escrow", "escrow_id": escrowID})
	assert.Equal(t, "failed", resp["status"])
	assert.Equal(t, "unauthorized", resp["reason"])

	resp = alice.send(map[string]string{"command": "release_escrow", "escrow_id": escrowID})
	require.Equal(t, "released", resp["status"], resp)

	note = bob.next()
	assert.Equal(t, "escrow_update", note["type"])
	assert.Equal(t, "200", note["balance"])

	resp = bob.send(map[string]string{"command": "escrow_status", "escrow_id": escrowID})
	assert.Equal(t, "released", resp["state"])
}

func TestServer_Health(t *testing.T) {
	_, srv := startApp(t)

	for _, path := range []string{"/health", "/ready", "/metrics"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}

func TestServer_MetricsExposesBothRegistries(t *testing.T) {
	_, srv := startApp(t)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Contains(t, string(body), "go_goroutines")
	assert.Contains(t, string(body), "transactai_accounts_registered_total")
}

func TestNewMetricsHandlerGathersWithoutDuplicates(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics.New(reg)

	rec := httptest.NewRecorder()
	newMetricsHandler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func mustAmount(t *testing.T, raw string) decimal.Decimal {
	t.Helper()
	d, err := domain.ParseAmount(raw)
	require.NoError(t, err)
	return d
}
