// Package memory is a process-local ledger store. Row locks are per-key
// channels held for the life of a transaction; writes are staged on the
// transaction and applied to the committed maps on Commit.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/iho/transactai/internal/domain"
	"github.com/iho/transactai/internal/usecase"
)

// ErrTxDone is returned when a finished transaction is used again.
var ErrTxDone = errors.New("transaction already finished")

// Store holds committed ledger state.
type Store struct {
	mu        sync.RWMutex
	accounts  map[string]*domain.Account
	wallets   map[string]string
	escrows   map[string]*domain.Escrow
	deposits  map[string]*domain.DepositRecord
	withdrawn decimal.Decimal

	locks sync.Map // key -> chan struct{}
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		accounts:  make(map[string]*domain.Account),
		wallets:   make(map[string]string),
		escrows:   make(map[string]*domain.Escrow),
		deposits:  make(map[string]*domain.DepositRecord),
		withdrawn: decimal.Zero,
	}
}

func (s *Store) lock(ctx context.Context, key string) error {
	v, _ := s.locks.LoadOrStore(key, make(chan struct{}, 1))
	ch := v.(chan struct{})

	select {
	case ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) unlock(key string) {
	v, ok := s.locks.Load(key)
	if !ok {
		return
	}
	<-v.(chan struct{})
}

// TxManager implements usecase.TransactionManager.
type TxManager struct {
	store *Store
}

// NewTxManager creates a new TxManager.
func NewTxManager(store *Store) *TxManager {
	return &TxManager{store: store}
}

// Begin starts a new transaction.
func (m *TxManager) Begin(ctx context.Context) (usecase.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return newTx(m.store), nil
}

// Tx stages writes and holds row locks until Commit or Rollback. A Tx is
// used by one goroutine.
type Tx struct {
	store *Store
	held  []string
	owns  map[string]struct{}

	accounts  map[string]*domain.Account
	wallets   map[string]string
	escrows   map[string]*domain.Escrow
	deposits  map[string]*domain.DepositRecord
	withdrawn decimal.Decimal

	done bool
}

func newTx(store *Store) *Tx {
	return &Tx{
		store:     store,
		owns:      make(map[string]struct{}),
		accounts:  make(map[string]*domain.Account),
		wallets:   make(map[string]string),
		escrows:   make(map[string]*domain.Escrow),
		deposits:  make(map[string]*domain.DepositRecord),
		withdrawn: decimal.Zero,
	}
}

// acquire takes the row lock for key unless this transaction already holds it.
func (t *Tx) acquire(ctx context.Context, key string) error {
	if t.done {
		return ErrTxDone
	}
	if _, ok := t.owns[key]; ok {
		return nil
	}
	if err := t.store.lock(ctx, key); err != nil {
		return err
	}
	t.owns[key] = struct{}{}
	t.held = append(t.held, key)
	return nil
}

func (t *Tx) holds(key string) bool {
	_, ok := t.owns[key]
	return ok
}

// Commit applies staged writes atomically and releases locks.
func (t *Tx) Commit(ctx context.Context) error {
	if t.done {
		return ErrTxDone
	}

	s := t.store
	s.mu.Lock()
	for id, acc := range t.accounts {
		s.accounts[id] = acc
	}
	for wallet, id := range t.wallets {
		s.wallets[wallet] = id
	}
	for id, e := range t.escrows {
		s.escrows[id] = e
	}
	for hash, rec := range t.deposits {
		s.deposits[hash] = rec
	}
	s.withdrawn = s.withdrawn.Add(t.withdrawn)
	s.mu.Unlock()

	t.finish()
	return nil
}

// Rollback discards staged writes. Rolling back a finished transaction is a no-op.
func (t *Tx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.finish()
	return nil
}

func (t *Tx) finish() {
	t.done = true
	for i := len(t.held) - 1; i >= 0; i-- {
		t.store.unlock(t.held[i])
	}
	t.held = nil
}

// account returns the transaction's view of an account.
func (t *Tx) account(id string) (*domain.Account, bool) {
	if acc, ok := t.accounts[id]; ok {
		cp := *acc
		return &cp, true
	}
	return t.store.committedAccount(id)
}

func (t *Tx) escrow(id string) (*domain.Escrow, bool) {
	if e, ok := t.escrows[id]; ok {
		cp := *e
		return &cp, true
	}
	return t.store.committedEscrow(id)
}

func (t *Tx) deposit(hash string) (*domain.DepositRecord, bool) {
	if rec, ok := t.deposits[hash]; ok {
		cp := *rec
		return &cp, true
	}
	return t.store.committedDeposit(hash)
}

func (s *Store) committedAccount(id string) (*domain.Account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.accounts[id]
	if !ok {
		return nil, false
	}
	cp := *acc
	return &cp, true
}

func (s *Store) committedEscrow(id string) (*domain.Escrow, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.escrows[id]
	if !ok {
		return nil, false
	}
	cp := *e
	return &cp, true
}

func (s *Store) committedDeposit(hash string) (*domain.DepositRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.deposits[hash]
	if !ok {
		return nil, false
	}
	cp := *rec
	return &cp, true
}

func accountKey(id string) string    { return "account:" + id }
func walletKey(wallet string) string { return "wallet:" + wallet }
func escrowKey(id string) string     { return "escrow:" + id }
func depositKey(hash string) string  { return "deposit:" + hash }
