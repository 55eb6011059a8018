package credits

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jonathan/storybook-agent/internal/types"
)

// PostgresLedger persists credit balances and charge records in Postgres.
// Idempotency rides on the unique attempt_id in credit_charges.
type PostgresLedger struct {
	pool *pgxpool.Pool
}

// NewPostgresLedger wraps an existing connection pool.
func NewPostgresLedger(pool *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{pool: pool}
}

// Deduct records the charge and debits the balance in one transaction. A
// replayed attempt ID inserts nothing and leaves the balance untouched.
func (l *PostgresLedger) Deduct(ctx context.Context, accountID string, attemptID uuid.UUID, stage types.Stage, cost int) error {
	tx, err := l.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to begin charge transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`INSERT INTO credit_charges (attempt_id, account_id, stage, cost)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (attempt_id) DO NOTHING`,
		attemptID, accountID, string(stage), cost,
	)
	if err != nil {
		return fmt.Errorf("failed to record charge: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Already charged for this attempt.
		return nil
	}

	var balance int
	err = tx.QueryRow(ctx,
		`UPDATE credit_accounts SET balance = balance - $1
		 WHERE account_id = $2 AND balance >= $1
		 RETURNING balance`,
		cost, accountID,
	).Scan(&balance)
	if err != nil {
		if err == pgx.ErrNoRows {
			return ErrInsufficientCredits
		}
		return fmt.Errorf("failed to debit account: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit charge: %w", err)
	}
	return nil
}

// Balance returns the account's remaining credits.
func (l *PostgresLedger) Balance(ctx context.Context, accountID string) (int, error) {
	var balance int
	err := l.pool.QueryRow(ctx,
		`SELECT balance FROM credit_accounts WHERE account_id = $1`,
		accountID,
	).Scan(&balance)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read balance: %w", err)
	}
	return balance, nil
}
