// Package subscription sells time-based subscriptions funded from account
// balances.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/unikbot/paycore/internal/ledger"
	"github.com/unikbot/paycore/internal/metrics"
)

var ErrNoSubscription = errors.New("no subscription")

// Subscription is a user's paid access window.
type Subscription struct {
	UserID    int64     `json:"userId"`
	EndDate   time.Time `json:"endDate"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Active reports whether the subscription covers the given instant.
func (s *Subscription) Active(now time.Time) bool {
	return s != nil && s.EndDate.After(now)
}

// Store persists subscription windows.
type Store interface {
	Get(ctx context.Context, userID int64) (*Subscription, error)

	// ExtendEnd sets the subscription end to the later of (current end,
	// now) plus the duration, creating the row if needed, and returns the
	// new end date. Renewing early adds time instead of losing it.
	ExtendEnd(ctx context.Context, userID int64, d time.Duration, now time.Time) (time.Time, error)
}

// Config holds the subscription offer.
type Config struct {
	Price    decimal.Decimal
	Duration time.Duration
}

// DefaultConfig returns the standard 30-day offer.
func DefaultConfig() Config {
	return Config{
		Price:    decimal.NewFromInt(10),
		Duration: 30 * 24 * time.Hour,
	}
}

// Service purchases and reports subscriptions.
type Service struct {
	store  Store
	ledger *ledger.Ledger
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// New creates a subscription service.
func New(store Store, l *ledger.Ledger, cfg Config, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		ledger: l,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Purchase debits the subscription price from the user's balance and extends
// their subscription. The debit happens first; if it fails (including
// insufficient balance) the subscription is untouched.
func (s *Service) Purchase(ctx context.Context, userID int64) (*Subscription, error) {
	newBalance, err := s.ledger.Debit(ctx, userID, s.cfg.Price)
	if err != nil {
		return nil, fmt.Errorf("debit for subscription: %w", err)
	}

	end, err := s.store.ExtendEnd(ctx, userID, s.cfg.Duration, s.now())
	if err != nil {
		// The debit already happened. Refund rather than leave the user
		// paid-but-unsubscribed.
		if _, rerr := s.ledger.Credit(ctx, userID, s.cfg.Price); rerr != nil {
			s.logger.Error("refund after failed subscription extend failed",
				"user_id", userID, "amount", s.cfg.Price.String(), "error", rerr)
		}
		return nil, fmt.Errorf("extend subscription: %w", err)
	}

	metrics.SubscriptionsPurchasedTotal.Inc()
	s.logger.Info("subscription purchased",
		"user_id", userID,
		"end_date", end,
		"balance", newBalance.String(),
	)

	return &Subscription{UserID: userID, EndDate: end, UpdatedAt: s.now()}, nil
}

// Status returns the user's subscription, or ErrNoSubscription.
func (s *Service) Status(ctx context.Context, userID int64) (*Subscription, error) {
	sub, err := s.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, ErrNoSubscription
	}
	return sub, nil
}
