package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/iho/transactai/internal/domain"
	"github.com/iho/transactai/internal/usecase"
)

const escrowColumns = `id, sender, recipient, amount, reference, state, created_at, expires_at, settled_at`

// EscrowRepository implements usecase.EscrowRepository.
type EscrowRepository struct {
	db DBTX
}

// NewEscrowRepository creates a new EscrowRepository.
func NewEscrowRepository(db DBTX) *EscrowRepository {
	return &EscrowRepository{db: db}
}

// Create inserts a held escrow. The new row stays locked until the
// transaction ends.
func (r *EscrowRepository) Create(ctx context.Context, tx usecase.Transaction, escrow *domain.Escrow) error {
	conn, err := txConn(tx)
	if err != nil {
		return err
	}

	_, err = conn.Exec(ctx, `
		INSERT INTO escrows (id, sender, recipient, amount, reference, state, created_at, expires_at, settled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		escrow.ID,
		escrow.Sender,
		escrow.Recipient,
		decimalToNumeric(escrow.Amount),
		escrow.Reference,
		string(escrow.State),
		timeToPgTimestamptz(escrow.CreatedAt),
		timeToPgTimestamptz(escrow.ExpiresAt),
		optionalTimestamptz(escrow.SettledAt),
	)
	if err != nil {
		return fmt.Errorf("insert escrow: %w", err)
	}
	return nil
}

// GetByID retrieves an escrow by ID.
func (r *EscrowRepository) GetByID(ctx context.Context, id string) (*domain.Escrow, error) {
	row := r.db.QueryRow(ctx, `SELECT `+escrowColumns+` FROM escrows WHERE id = $1`, id)
	return scanEscrow(row)
}

// GetByIDForUpdate retrieves an escrow by ID with a FOR UPDATE lock.
func (r *EscrowRepository) GetByIDForUpdate(ctx context.Context, tx usecase.Transaction, id string) (*domain.Escrow, error) {
	conn, err := txConn(tx)
	if err != nil {
		return nil, err
	}

	row := conn.QueryRow(ctx, `SELECT `+escrowColumns+` FROM escrows WHERE id = $1 FOR UPDATE`, id)
	return scanEscrow(row)
}

// UpdateState moves a held escrow to a terminal state. It fails with
// domain.ErrInvalidEscrowState when the escrow is no longer held.
func (r *EscrowRepository) UpdateState(ctx context.Context, tx usecase.Transaction, id string, state domain.EscrowState, settledAt time.Time) error {
	conn, err := txConn(tx)
	if err != nil {
		return err
	}

	tag, err := conn.Exec(ctx, `
		UPDATE escrows SET state = $2, settled_at = $3
		WHERE id = $1 AND state = 'held'`,
		id, string(state), timeToPgTimestamptz(settledAt))
	if err != nil {
		return fmt.Errorf("update escrow state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrInvalidEscrowState
	}
	return nil
}

// ListExpired lists held escrows due at now, oldest expiry first.
func (r *EscrowRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]*domain.Escrow, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+escrowColumns+` FROM escrows
		WHERE state = 'held' AND expires_at <= $1
		ORDER BY expires_at, id
		LIMIT $2`,
		timeToPgTimestamptz(now), limit)
	if err != nil {
		return nil, fmt.Errorf("list expired escrows: %w", err)
	}
	defer rows.Close()

	var escrows []*domain.Escrow
	for rows.Next() {
		e, err := scanEscrow(rows)
		if err != nil {
			return nil, err
		}
		escrows = append(escrows, e)
	}
	return escrows, rows.Err()
}

func scanEscrow(row scanner) (*domain.Escrow, error) {
	var (
		e         domain.Escrow
		amount    pgtype.Numeric
		state     string
		createdAt pgtype.Timestamptz
		expiresAt pgtype.Timestamptz
		settledAt pgtype.Timestamptz
	)
	err := row.Scan(&e.ID, &e.Sender, &e.Recipient, &amount, &e.Reference, &state, &createdAt, &expiresAt, &settledAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrEscrowNotFound
		}
		return nil, fmt.Errorf("scan escrow: %w", err)
	}
	e.Amount = numericToDecimal(amount)
	e.State = domain.EscrowState(state)
	e.CreatedAt = createdAt.Time.UTC()
	e.ExpiresAt = expiresAt.Time.UTC()
	e.SettledAt = optionalTime(settledAt)
	return &e, nil
}
