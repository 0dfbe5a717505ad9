package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// PostgresStore implements Store with PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed ledger store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the ledger tables with NUMERIC columns. Production
// deployments run the goose migrations instead; this keeps dev setups and
// POSTGRES_URL test runs self-contained.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS accounts (
			user_id     BIGINT PRIMARY KEY,
			username    VARCHAR(255) NOT NULL DEFAULT '',
			balance     NUMERIC(20,6) NOT NULL DEFAULT 0,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT chk_balance_nonneg CHECK (balance >= 0)
		);

		CREATE TABLE IF NOT EXISTS processed_invoices (
			invoice_id   BIGINT PRIMARY KEY,
			user_id      BIGINT NOT NULL,
			amount       NUMERIC(20,6) NOT NULL,
			asset        VARCHAR(16) NOT NULL,
			processed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_processed_invoices_user ON processed_invoices(user_id);
	`)
	return err
}

// EnsureAccount creates the account if it does not exist yet.
func (p *PostgresStore) EnsureAccount(ctx context.Context, userID int64, username string) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO accounts (user_id, username, balance)
		VALUES ($1, $2, 0)
		ON CONFLICT (user_id) DO NOTHING
	`, userID, username)
	if err != nil {
		return fmt.Errorf("ensure account: %w", err)
	}
	return nil
}

// GetBalance returns the account balance, or zero for unknown users.
func (p *PostgresStore) GetBalance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := p.db.QueryRowContext(ctx, `
		SELECT balance FROM accounts WHERE user_id = $1
	`, userID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("get balance: %w", err)
	}
	return balance, nil
}

// CreditBalance adds amount to the balance in a single upsert, creating the
// account on first credit. The row-level atomicity of the statement makes
// concurrent credits for the same user safe.
func (p *PostgresStore) CreditBalance(ctx context.Context, userID int64, amount decimal.Decimal) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO accounts (user_id, balance)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE
		SET balance = accounts.balance + EXCLUDED.balance
		RETURNING balance
	`, userID, amount).Scan(&balance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("credit balance: %w", err)
	}
	return balance, nil
}

// DebitBalance subtracts amount only when the balance covers it. The
// conditional UPDATE is the guard: no rows affected means either the account
// is missing or the balance is short.
func (p *PostgresStore) DebitBalance(ctx context.Context, userID int64, amount decimal.Decimal) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := p.db.QueryRowContext(ctx, `
		UPDATE accounts
		SET balance = balance - $2
		WHERE user_id = $1 AND balance >= $2
		RETURNING balance
	`, userID, amount).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		var exists bool
		if err := p.db.QueryRowContext(ctx, `
			SELECT EXISTS (SELECT 1 FROM accounts WHERE user_id = $1)
		`, userID).Scan(&exists); err != nil {
			return decimal.Zero, fmt.Errorf("debit balance: %w", err)
		}
		if !exists {
			return decimal.Zero, ErrAccountNotFound
		}
		return decimal.Zero, ErrInsufficientBalance
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("debit balance: %w", err)
	}
	return balance, nil
}

// MarkInvoiceProcessed inserts the de-duplication row. The unique constraint
// on invoice_id decides the winner under concurrency: exactly one caller sees
// RowsAffected == 1, every other caller gets false without an error.
func (p *PostgresStore) MarkInvoiceProcessed(ctx context.Context, invoiceID, userID int64, amount decimal.Decimal, asset string) (bool, error) {
	res, err := p.db.ExecContext(ctx, `
		INSERT INTO processed_invoices (invoice_id, user_id, amount, asset)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (invoice_id) DO NOTHING
	`, invoiceID, userID, amount, asset)
	if err != nil {
		return false, fmt.Errorf("mark invoice processed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark invoice processed: %w", err)
	}
	return n == 1, nil
}

// IsInvoiceProcessed reports whether a de-duplication row exists.
func (p *PostgresStore) IsInvoiceProcessed(ctx context.Context, invoiceID int64) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM processed_invoices WHERE invoice_id = $1)
	`, invoiceID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("is invoice processed: %w", err)
	}
	return exists, nil
}

// GetProcessedInvoice returns the de-duplication record, or nil if absent.
func (p *PostgresStore) GetProcessedInvoice(ctx context.Context, invoiceID int64) (*ProcessedInvoice, error) {
	inv := &ProcessedInvoice{}
	err := p.db.QueryRowContext(ctx, `
		SELECT invoice_id, user_id, amount, asset, processed_at
		FROM processed_invoices WHERE invoice_id = $1
	`, invoiceID).Scan(&inv.InvoiceID, &inv.UserID, &inv.Amount, &inv.Asset, &inv.ProcessedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get processed invoice: %w", err)
	}
	return inv, nil
}

// GetAccount returns the full account row, or nil if absent.
func (p *PostgresStore) GetAccount(ctx context.Context, userID int64) (*Account, error) {
	acc := &Account{}
	err := p.db.QueryRowContext(ctx, `
		SELECT user_id, username, balance, created_at
		FROM accounts WHERE user_id = $1
	`, userID).Scan(&acc.UserID, &acc.Username, &acc.Balance, &acc.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return acc, nil
}
