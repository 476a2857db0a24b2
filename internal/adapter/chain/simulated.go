package chain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iho/transactai/internal/domain"
)

// ErrSimulatedSendFailure is returned by SendTokens after FailNextSends.
var ErrSimulatedSendFailure = errors.New("simulated send failure")

// Send is a payout recorded by Simulated.
type Send struct {
	TxHash string
	To     string
	Amount decimal.Decimal
	Denom  string
}

// Simulated is an in-process chain. Each added transaction is included in a
// new block; confirmations grow as blocks are mined.
type Simulated struct {
	mu        sync.Mutex
	hotWallet string
	height    int64
	txs       map[string]*domain.ChainTransaction
	sends     []Send
	failSends int
	seq       int
}

// NewSimulated creates a simulated chain whose payouts come from hotWallet.
func NewSimulated(hotWallet string) *Simulated {
	return &Simulated{
		hotWallet: hotWallet,
		txs:       make(map[string]*domain.ChainTransaction),
	}
}

// Mine appends n empty blocks and returns the new height.
func (s *Simulated) Mine(n int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.height += n
	return s.height
}

// Height returns the latest height.
func (s *Simulated) Height() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.height
}

// AddTransaction includes tx in a new block unless it already carries a height.
func (s *Simulated) AddTransaction(tx domain.ChainTransaction) *domain.ChainTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.include(tx)
}

// AddTransfer includes a successful single-transfer transaction.
func (s *Simulated) AddTransfer(hash, sender, recipient string, amount decimal.Decimal, denom string) *domain.ChainTransaction {
	return s.AddTransaction(domain.ChainTransaction{
		Hash: hash,
		Transfers: []domain.ChainTransfer{
			{Sender: sender, Recipient: recipient, Amount: amount, Denom: denom},
		},
	})
}

func (s *Simulated) include(tx domain.ChainTransaction) *domain.ChainTransaction {
	if tx.Height == 0 {
		s.height++
		tx.Height = s.height
	} else if tx.Height > s.height {
		s.height = tx.Height
	}
	cp := tx
	s.txs[tx.Hash] = &cp
	return &cp
}

// FailNextSends makes the next n SendTokens calls fail.
func (s *Simulated) FailNextSends(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failSends = n
}

// Sends returns the payouts made so far.
func (s *Simulated) Sends() []Send {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Send, len(s.sends))
	copy(out, s.sends)
	return out
}

// GetTransaction implements usecase.ChainClient.
func (s *Simulated) GetTransaction(ctx context.Context, hash string) (*domain.ChainTransaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.txs[hash]
	if !ok {
		return nil, domain.ErrTxNotFound
	}
	cp := *tx
	return &cp, nil
}

// LatestHeight implements usecase.ChainClient.
func (s *Simulated) LatestHeight(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return s.Height(), nil
}

// SendTokens implements usecase.ChainClient.
func (s *Simulated) SendTokens(ctx context.Context, to string, amount decimal.Decimal, denom string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failSends > 0 {
		s.failSends--
		return "", ErrSimulatedSendFailure
	}

	s.seq++
	hash := fmt.Sprintf("SIM%060X", s.seq)
	s.include(domain.ChainTransaction{
		Hash: hash,
		Transfers: []domain.ChainTransfer{
			{Sender: s.hotWallet, Recipient: to, Amount: amount, Denom: denom},
		},
	})
	s.sends = append(s.sends, Send{TxHash: hash, To: to, Amount: amount, Denom: denom})
	return hash, nil
}

// Run mines one block per interval until ctx is done.
func (s *Simulated) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Mine(1)
		}
	}
}
