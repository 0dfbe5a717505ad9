package subscription

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unikbot/paycore/internal/ledger"
)

func newTestService(t *testing.T) (*Service, *ledger.Ledger) {
	t.Helper()
	l := ledger.New(ledger.NewMemoryStore())
	cfg := Config{Price: decimal.NewFromInt(10), Duration: 30 * 24 * time.Hour}
	svc := New(NewMemoryStore(), l, cfg, slog.New(slog.DiscardHandler))
	return svc, l
}

func TestPurchase_DebitsAndExtends(t *testing.T) {
	svc, l := newTestService(t)
	ctx := context.Background()

	_, err := l.Credit(ctx, 42, decimal.NewFromInt(25))
	require.NoError(t, err)

	sub, err := svc.Purchase(ctx, 42)
	require.NoError(t, err)
	assert.True(t, sub.Active(time.Now()))
	assert.WithinDuration(t, time.Now().Add(30*24*time.Hour), sub.EndDate, time.Minute)

	bal, err := l.GetBalance(ctx, 42)
	require.NoError(t, err)
	assert.True(t, bal.Equal(decimal.NewFromInt(15)))
}

func TestPurchase_InsufficientBalance(t *testing.T) {
	svc, l := newTestService(t)
	ctx := context.Background()

	_, err := l.Credit(ctx, 42, decimal.NewFromInt(5))
	require.NoError(t, err)

	_, err = svc.Purchase(ctx, 42)
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	// Balance untouched, no subscription created.
	bal, err := l.GetBalance(ctx, 42)
	require.NoError(t, err)
	assert.True(t, bal.Equal(decimal.NewFromInt(5)))

	_, err = svc.Status(ctx, 42)
	assert.ErrorIs(t, err, ErrNoSubscription)
}

func TestPurchase_EarlyRenewalStacks(t *testing.T) {
	svc, l := newTestService(t)
	ctx := context.Background()

	_, err := l.Credit(ctx, 42, decimal.NewFromInt(100))
	require.NoError(t, err)

	first, err := svc.Purchase(ctx, 42)
	require.NoError(t, err)

	second, err := svc.Purchase(ctx, 42)
	require.NoError(t, err)

	// The second month starts where the first ends, not now.
	assert.WithinDuration(t, first.EndDate.Add(30*24*time.Hour), second.EndDate, time.Second)
}

func TestStatus(t *testing.T) {
	svc, l := newTestService(t)
	ctx := context.Background()

	_, err := svc.Status(ctx, 42)
	assert.ErrorIs(t, err, ErrNoSubscription)

	_, err = l.Credit(ctx, 42, decimal.NewFromInt(10))
	require.NoError(t, err)
	_, err = svc.Purchase(ctx, 42)
	require.NoError(t, err)

	sub, err := svc.Status(ctx, 42)
	require.NoError(t, err)
	assert.True(t, sub.Active(time.Now()))
	assert.False(t, sub.Active(sub.EndDate.Add(time.Hour)))
}

func TestMemoryStore_LapsedSubscriptionRestartsFromNow(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	// Expired a week ago.
	_, err := store.ExtendEnd(ctx, 42, 24*time.Hour, now.Add(-8*24*time.Hour))
	require.NoError(t, err)

	end, err := store.ExtendEnd(ctx, 42, 30*24*time.Hour, now)
	require.NoError(t, err)
	assert.WithinDuration(t, now.Add(30*24*time.Hour), end, time.Second)
}
