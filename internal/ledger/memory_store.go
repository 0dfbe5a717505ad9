package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// MemoryStore implements Store in memory for development and tests.
type MemoryStore struct {
	mu        sync.Mutex
	accounts  map[int64]*Account
	processed map[int64]*ProcessedInvoice
}

// NewMemoryStore creates a new in-memory ledger store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:  make(map[int64]*Account),
		processed: make(map[int64]*ProcessedInvoice),
	}
}

func (m *MemoryStore) EnsureAccount(ctx context.Context, userID int64, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[userID]; !ok {
		m.accounts[userID] = &Account{
			UserID:    userID,
			Username:  username,
			Balance:   decimal.Zero,
			CreatedAt: time.Now(),
		}
	}
	return nil
}

func (m *MemoryStore) GetBalance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accounts[userID]
	if !ok {
		return decimal.Zero, nil
	}
	return acc.Balance, nil
}

func (m *MemoryStore) CreditBalance(ctx context.Context, userID int64, amount decimal.Decimal) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accounts[userID]
	if !ok {
		acc = &Account{UserID: userID, Balance: decimal.Zero, CreatedAt: time.Now()}
		m.accounts[userID] = acc
	}
	acc.Balance = acc.Balance.Add(amount)
	return acc.Balance, nil
}

func (m *MemoryStore) DebitBalance(ctx context.Context, userID int64, amount decimal.Decimal) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accounts[userID]
	if !ok {
		return decimal.Zero, ErrAccountNotFound
	}
	if acc.Balance.LessThan(amount) {
		return decimal.Zero, ErrInsufficientBalance
	}
	acc.Balance = acc.Balance.Sub(amount)
	return acc.Balance, nil
}

func (m *MemoryStore) MarkInvoiceProcessed(ctx context.Context, invoiceID, userID int64, amount decimal.Decimal, asset string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.processed[invoiceID]; ok {
		return false, nil
	}
	m.processed[invoiceID] = &ProcessedInvoice{
		InvoiceID:   invoiceID,
		UserID:      userID,
		Amount:      amount,
		Asset:       asset,
		ProcessedAt: time.Now(),
	}
	return true, nil
}

func (m *MemoryStore) IsInvoiceProcessed(ctx context.Context, invoiceID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.processed[invoiceID]
	return ok, nil
}

func (m *MemoryStore) GetProcessedInvoice(ctx context.Context, invoiceID int64) (*ProcessedInvoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.processed[invoiceID]
	if !ok {
		return nil, nil
	}
	cp := *inv
	return &cp, nil
}

func (m *MemoryStore) GetAccount(ctx context.Context, userID int64) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accounts[userID]
	if !ok {
		return nil, nil
	}
	cp := *acc
	return &cp, nil
}
