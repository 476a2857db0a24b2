package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/iho/transactai/internal/domain"
	"github.com/iho/transactai/internal/usecase"
)

// EscrowRepository implements usecase.EscrowRepository.
type EscrowRepository struct {
	store *Store
}

// NewEscrowRepository creates a new EscrowRepository.
func NewEscrowRepository(store *Store) *EscrowRepository {
	return &EscrowRepository{store: store}
}

// Create stages a new escrow and locks it.
func (r *EscrowRepository) Create(ctx context.Context, tx usecase.Transaction, escrow *domain.Escrow) error {
	t := tx.(*Tx)
	if err := t.acquire(ctx, escrowKey(escrow.ID)); err != nil {
		return err
	}
	if _, exists := t.escrow(escrow.ID); exists {
		return fmt.Errorf("escrow %s already exists", escrow.ID)
	}

	cp := *escrow
	t.escrows[escrow.ID] = &cp
	return nil
}

// GetByID retrieves an escrow by ID.
func (r *EscrowRepository) GetByID(ctx context.Context, id string) (*domain.Escrow, error) {
	e, ok := r.store.committedEscrow(id)
	if !ok {
		return nil, domain.ErrEscrowNotFound
	}
	return e, nil
}

// GetByIDForUpdate retrieves an escrow and locks it.
func (r *EscrowRepository) GetByIDForUpdate(ctx context.Context, tx usecase.Transaction, id string) (*domain.Escrow, error) {
	t := tx.(*Tx)
	if err := t.acquire(ctx, escrowKey(id)); err != nil {
		return nil, err
	}

	e, ok := t.escrow(id)
	if !ok {
		return nil, domain.ErrEscrowNotFound
	}
	return e, nil
}

// UpdateState stages a state change for a locked escrow.
func (r *EscrowRepository) UpdateState(ctx context.Context, tx usecase.Transaction, id string, state domain.EscrowState, settledAt time.Time) error {
	t := tx.(*Tx)
	if !t.holds(escrowKey(id)) {
		return errNotLocked
	}

	e, ok := t.escrow(id)
	if !ok {
		return domain.ErrEscrowNotFound
	}
	e.State = state
	e.SettledAt = &settledAt
	t.escrows[id] = e
	return nil
}

// ListExpired returns held escrows due at now, oldest expiry first.
func (r *EscrowRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]*domain.Escrow, error) {
	r.store.mu.RLock()
	due := make([]*domain.Escrow, 0)
	for _, e := range r.store.escrows {
		if e.State == domain.EscrowStateHeld && e.IsExpired(now) {
			cp := *e
			due = append(due, &cp)
		}
	}
	r.store.mu.RUnlock()

	sort.Slice(due, func(i, j int) bool {
		if due[i].ExpiresAt.Equal(due[j].ExpiresAt) {
			return due[i].ID < due[j].ID
		}
		return due[i].ExpiresAt.Before(due[j].ExpiresAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}
