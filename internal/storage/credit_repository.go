package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// CreditRepository keeps user balances and the delivery charge ledger in
// Postgres. It satisfies billing.CreditStore.
type CreditRepository struct {
	db *PostgresDB
}

// NewCreditRepository creates a new credit repository
func NewCreditRepository(db *PostgresDB) *CreditRepository {
	return &CreditRepository{db: db}
}

// Balance returns the balance in cents. Unknown users have zero.
func (r *CreditRepository) Balance(ctx context.Context, user string) (int64, error) {
	var balance int64
	err := r.db.Pool().QueryRow(ctx, `SELECT balance_cents FROM users WHERE username = $1`, user).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}
	return balance, nil
}

// Charge records the charge for messageID and debits the user in one
// transaction. A message id already present leaves the balance untouched.
func (r *CreditRepository) Charge(ctx context.Context, user, messageID string, cents int64) (int64, bool, error) {
	var (
		balance int64
		charged bool
	)
	err := r.db.InTx(ctx, func(tx pgx.Tx) error {
		result, err := tx.Exec(ctx, `
			INSERT INTO delivery_charges (message_id, username, cents, charged_at)
			VALUES ($1, $2, $3, NOW())
			ON CONFLICT (message_id) DO NOTHING
		`, messageID, user, cents)
		if err != nil {
			return fmt.Errorf("failed to record charge: %w", err)
		}

		if result.RowsAffected() == 0 {
			balance, err = balanceTx(ctx, tx, user)
			return err
		}

		err = tx.QueryRow(ctx, `
			INSERT INTO users (username, balance_cents, created_at, updated_at)
			VALUES ($1, 0, NOW(), NOW())
			ON CONFLICT (username) DO UPDATE
			SET balance_cents = GREATEST(users.balance_cents - $2::bigint, 0), updated_at = NOW()
			RETURNING balance_cents
		`, user, cents).Scan(&balance)
		if err != nil {
			return fmt.Errorf("failed to debit balance: %w", err)
		}
		charged = true
		return nil
	})
	if err != nil {
		return 0, false, err
	}
	return balance, charged, nil
}

func balanceTx(ctx context.Context, tx pgx.Tx, user string) (int64, error) {
	var balance int64
	err := tx.QueryRow(ctx, `SELECT balance_cents FROM users WHERE username = $1`, user).Scan(&balance)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}
	return balance, nil
}

// TopUp credits the user, creating the row when needed
func (r *CreditRepository) TopUp(ctx context.Context, user string, cents int64) (int64, error) {
	var balance int64
	err := r.db.Pool().QueryRow(ctx, `
		INSERT INTO users (username, balance_cents, created_at, updated_at)
		VALUES ($1, GREATEST($2::bigint, 0), NOW(), NOW())
		ON CONFLICT (username) DO UPDATE
		SET balance_cents = GREATEST(users.balance_cents + $2::bigint, 0), updated_at = NOW()
		RETURNING balance_cents
	`, user, cents).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("failed to top up: %w", err)
	}
	return balance, nil
}
