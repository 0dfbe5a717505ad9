// Package ledger tracks user account balances and processed invoices.
//
// Flow:
//  1. User pays a provider invoice
//  2. Reconciler marks the invoice processed (the commit point)
//  3. Reconciler credits the user's balance
//  4. User spends the balance (subscriptions)
//
// The processed-invoices table is the sole source of truth for whether a
// credit has been applied. Its unique constraint on invoice_id is the only
// lock-equivalent primitive the credit path needs: in-memory state does not
// survive restarts and does not coordinate across concurrent checkers.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrAccountNotFound     = errors.New("account not found")
	ErrInvalidAmount       = errors.New("invalid amount")
)

// Account represents a user account with a spendable balance.
type Account struct {
	UserID    int64           `json:"userId"`
	Username  string          `json:"username,omitempty"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"createdAt"`
}

// ProcessedInvoice is the de-duplication record for a credited invoice.
// At most one exists per invoice id; presence means "credit already applied".
type ProcessedInvoice struct {
	InvoiceID   int64           `json:"invoiceId"`
	UserID      int64           `json:"userId"`
	Amount      decimal.Decimal `json:"amount"`
	Asset       string          `json:"asset"`
	ProcessedAt time.Time       `json:"processedAt"`
}

// Store persists accounts and processed-invoice records.
type Store interface {
	EnsureAccount(ctx context.Context, userID int64, username string) error
	GetBalance(ctx context.Context, userID int64) (decimal.Decimal, error)

	// CreditBalance atomically adds amount to the user's balance, creating
	// the account if needed, and returns the new balance.
	CreditBalance(ctx context.Context, userID int64, amount decimal.Decimal) (decimal.Decimal, error)

	// DebitBalance atomically subtracts amount if the balance covers it and
	// returns the new balance. Returns ErrInsufficientBalance otherwise.
	DebitBalance(ctx context.Context, userID int64, amount decimal.Decimal) (decimal.Decimal, error)

	// MarkInvoiceProcessed inserts the de-duplication record if absent.
	// Returns true only for the call that created the record: a false
	// return means another checker already won and no credit must follow.
	MarkInvoiceProcessed(ctx context.Context, invoiceID, userID int64, amount decimal.Decimal, asset string) (bool, error)

	// IsInvoiceProcessed is the cheap read-only early exit.
	IsInvoiceProcessed(ctx context.Context, invoiceID int64) (bool, error)

	GetProcessedInvoice(ctx context.Context, invoiceID int64) (*ProcessedInvoice, error)

	GetAccount(ctx context.Context, userID int64) (*Account, error)
}

// Ledger manages account balances on top of a Store.
type Ledger struct {
	store Store
}

// New creates a new ledger
func New(store Store) *Ledger {
	return &Ledger{store: store}
}

// EnsureAccount creates the account with balance 0 on first contact.
func (l *Ledger) EnsureAccount(ctx context.Context, userID int64, username string) error {
	return l.store.EnsureAccount(ctx, userID, username)
}

// GetBalance returns the user's current balance (0 for unknown users).
func (l *Ledger) GetBalance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	return l.store.GetBalance(ctx, userID)
}

// Credit adds amount to the user's balance and returns the new balance.
func (l *Ledger) Credit(ctx context.Context, userID int64, amount decimal.Decimal) (decimal.Decimal, error) {
	if amount.Sign() <= 0 {
		return decimal.Zero, ErrInvalidAmount
	}
	newBalance, err := l.store.CreditBalance(ctx, userID, amount)
	if err != nil {
		return decimal.Zero, err
	}
	ledgerCreditsTotal.Inc()
	return newBalance, nil
}

// Debit subtracts amount from the user's balance (used for subscription
// purchases) and returns the new balance.
func (l *Ledger) Debit(ctx context.Context, userID int64, amount decimal.Decimal) (decimal.Decimal, error) {
	if amount.Sign() <= 0 {
		return decimal.Zero, ErrInvalidAmount
	}
	newBalance, err := l.store.DebitBalance(ctx, userID, amount)
	if err != nil {
		return decimal.Zero, err
	}
	ledgerDebitsTotal.Inc()
	return newBalance, nil
}

// MarkInvoiceProcessed records the invoice as handled. The returned bool is
// the exactly-once arbiter: only the caller that receives true may credit.
func (l *Ledger) MarkInvoiceProcessed(ctx context.Context, invoiceID, userID int64, amount decimal.Decimal, asset string) (bool, error) {
	applied, err := l.store.MarkInvoiceProcessed(ctx, invoiceID, userID, amount, asset)
	if err != nil {
		return false, err
	}
	if !applied {
		ledgerDuplicateMarksTotal.Inc()
	}
	return applied, nil
}

// IsInvoiceProcessed reports whether the invoice was already credited.
func (l *Ledger) IsInvoiceProcessed(ctx context.Context, invoiceID int64) (bool, error) {
	return l.store.IsInvoiceProcessed(ctx, invoiceID)
}

// GetProcessedInvoice returns the de-duplication record, or nil if absent.
func (l *Ledger) GetProcessedInvoice(ctx context.Context, invoiceID int64) (*ProcessedInvoice, error) {
	return l.store.GetProcessedInvoice(ctx, invoiceID)
}

// GetAccount returns the account, or ErrAccountNotFound if it does not exist.
func (l *Ledger) GetAccount(ctx context.Context, userID int64) (*Account, error) {
	acc, err := l.store.GetAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		return nil, ErrAccountNotFound
	}
	return acc, nil
}
