package ledger

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestLedger_CreditAndBalance(t *testing.T) {
	ctx := context.Background()
	l := New(NewMemoryStore())

	bal, err := l.Credit(ctx, 42, dec("100"))
	require.NoError(t, err)
	assert.True(t, bal.Equal(dec("100")))

	bal, err = l.Credit(ctx, 42, dec("2.50"))
	require.NoError(t, err)
	assert.True(t, bal.Equal(dec("102.50")))

	got, err := l.GetBalance(ctx, 42)
	require.NoError(t, err)
	assert.True(t, got.Equal(dec("102.50")))
}

func TestLedger_BalanceForUnknownUserIsZero(t *testing.T) {
	ctx := context.Background()
	l := New(NewMemoryStore())

	bal, err := l.GetBalance(ctx, 999)
	require.NoError(t, err)
	assert.True(t, bal.IsZero())
}

func TestLedger_CreditRejectsNonPositive(t *testing.T) {
	ctx := context.Background()
	l := New(NewMemoryStore())

	_, err := l.Credit(ctx, 1, dec("0"))
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = l.Credit(ctx, 1, dec("-5"))
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestLedger_Debit(t *testing.T) {
	ctx := context.Background()
	l := New(NewMemoryStore())

	_, err := l.Credit(ctx, 7, dec("50"))
	require.NoError(t, err)

	bal, err := l.Debit(ctx, 7, dec("20"))
	require.NoError(t, err)
	assert.True(t, bal.Equal(dec("30")))

	_, err = l.Debit(ctx, 7, dec("31"))
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	_, err = l.Debit(ctx, 8, dec("1"))
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestLedger_MarkInvoiceProcessed_FirstWins(t *testing.T) {
	ctx := context.Background()
	l := New(NewMemoryStore())

	applied, err := l.MarkInvoiceProcessed(ctx, 1001, 42, dec("10"), "USDT")
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = l.MarkInvoiceProcessed(ctx, 1001, 42, dec("10"), "USDT")
	require.NoError(t, err)
	assert.False(t, applied, "second mark for same invoice must not apply")

	processed, err := l.IsInvoiceProcessed(ctx, 1001)
	require.NoError(t, err)
	assert.True(t, processed)
}

// Many goroutines race to settle the same invoice. Exactly one must win the
// mark, so exactly one credit is applied.
func TestLedger_ConcurrentSettle_AtMostOnce(t *testing.T) {
	ctx := context.Background()
	l := New(NewMemoryStore())

	const workers = 50
	amount := dec("10")

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			applied, err := l.MarkInvoiceProcessed(ctx, 5555, 42, amount, "USDT")
			if err != nil {
				t.Errorf("mark: %v", err)
				return
			}
			if !applied {
				return
			}
			mu.Lock()
			wins++
			mu.Unlock()
			if _, err := l.Credit(ctx, 42, amount); err != nil {
				t.Errorf("credit: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins, "exactly one worker must win the mark")

	bal, err := l.GetBalance(ctx, 42)
	require.NoError(t, err)
	assert.True(t, bal.Equal(amount), "balance credited exactly once, got %s", bal)
}

func TestLedger_EnsureAccountIdempotent(t *testing.T) {
	ctx := context.Background()
	l := New(NewMemoryStore())

	require.NoError(t, l.EnsureAccount(ctx, 9, "alice"))
	_, err := l.Credit(ctx, 9, dec("5"))
	require.NoError(t, err)

	// Re-ensuring must not reset the balance.
	require.NoError(t, l.EnsureAccount(ctx, 9, "alice"))

	bal, err := l.GetBalance(ctx, 9)
	require.NoError(t, err)
	assert.True(t, bal.Equal(dec("5")))

	acc, err := l.GetAccount(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, "alice", acc.Username)
}

func TestLedger_GetAccount_NotFound(t *testing.T) {
	ctx := context.Background()
	l := New(NewMemoryStore())

	_, err := l.GetAccount(ctx, 404)
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestLedger_GetProcessedInvoice(t *testing.T) {
	ctx := context.Background()
	l := New(NewMemoryStore())

	inv, err := l.GetProcessedInvoice(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, inv)

	_, err = l.MarkInvoiceProcessed(ctx, 1, 42, dec("25"), "TON")
	require.NoError(t, err)

	inv, err = l.GetProcessedInvoice(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, inv)
	assert.Equal(t, int64(42), inv.UserID)
	assert.Equal(t, "TON", inv.Asset)
	assert.True(t, inv.Amount.Equal(dec("25")))
}
