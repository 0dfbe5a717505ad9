// Package reconciler watches provider invoices and settles paid ones into
// the ledger.
//
// Each top-up gets its own watch goroutine that polls the provider until the
// invoice reaches a terminal outcome or the watch horizon passes. Settlement
// is exactly-once: the ledger's unique invoice mark is the commit point, and
// everything after it (credit, notification) must not be retried into a
// double credit.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/unikbot/paycore/internal/cryptopay"
	"github.com/unikbot/paycore/internal/ledger"
	"github.com/unikbot/paycore/internal/money"
	"github.com/unikbot/paycore/internal/notify"
	"github.com/unikbot/paycore/internal/retry"
	"github.com/unikbot/paycore/internal/traces"
)

// Outcome is the terminal state of an invoice watch.
type Outcome string

const (
	OutcomeCredited  Outcome = "credited"  // Paid and settled into the ledger
	OutcomeExpired   Outcome = "expired"   // Provider reported the invoice expired
	OutcomeTimedOut  Outcome = "timed_out" // Watch horizon passed without payment
	OutcomeCancelled Outcome = "cancelled" // Invoice vanished at the provider
)

// CheckResult is the answer to a manual invoice check.
type CheckResult string

const (
	CheckCredited        CheckResult = "credited"
	CheckAlreadyCredited CheckResult = "already_credited"
	CheckPending         CheckResult = "pending"
	CheckExpired         CheckResult = "expired"
	CheckNotFound        CheckResult = "not_found"
)

// Provider is the invoice API surface the reconciler needs.
type Provider interface {
	CreateInvoice(ctx context.Context, asset string, amount decimal.Decimal, description, payload string, expiresIn time.Duration) (*cryptopay.Invoice, error)
	GetInvoice(ctx context.Context, invoiceID int64) (*cryptopay.Invoice, error)
}

var (
	ErrAmountOutOfBounds = errors.New("top-up amount out of bounds")
	ErrStopped           = errors.New("reconciler stopped")

	// ErrProviderFailure marks a check that failed talking to the provider,
	// as opposed to a local store failure. Callers map the two to different
	// failure responses.
	ErrProviderFailure = errors.New("provider request failed")
)

// errCreditAfterCommit marks a settlement that failed after the invoice mark
// committed. Nothing past the mark may be retried.
var errCreditAfterCommit = errors.New("credit failed after commit")

// Config holds the reconciler's tunables.
type Config struct {
	PollInterval time.Duration // How often each watch polls the provider
	WatchHorizon time.Duration // How long a watch keeps polling before giving up
	MinAmount    decimal.Decimal
	MaxAmount    decimal.Decimal
	Asset        string
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval: 10 * time.Second,
		WatchHorizon: 300 * time.Second,
		MinAmount:    decimal.NewFromInt(1),
		MaxAmount:    decimal.NewFromInt(10000),
		Asset:        "USDT",
	}
}

// watch is the registry entry for one invoice being polled.
type watch struct {
	invoiceID int64
	userID    int64
	startedAt time.Time
}

// Reconciler drives invoice watches and settlement.
type Reconciler struct {
	provider Provider
	ledger   *ledger.Ledger
	notifier notify.Notifier
	logger   *slog.Logger
	cfg      Config

	mu      sync.Mutex
	watches map[int64]*watch
	stopped bool

	stop chan struct{}
	wg   sync.WaitGroup
}

// New creates a reconciler.
func New(provider Provider, l *ledger.Ledger, notifier notify.Notifier, cfg Config, logger *slog.Logger) *Reconciler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.WatchHorizon <= 0 {
		cfg.WatchHorizon = 300 * time.Second
	}
	return &Reconciler{
		provider: provider,
		ledger:   l,
		notifier: notifier,
		logger:   logger,
		cfg:      cfg,
		watches:  make(map[int64]*watch),
		stop:     make(chan struct{}),
	}
}

// StartTopup validates the amount, creates a provider invoice, and starts
// watching it. The returned invoice carries the payment URL for the user.
func (r *Reconciler) StartTopup(ctx context.Context, userID int64, amount decimal.Decimal) (*cryptopay.Invoice, error) {
	if !money.InBounds(amount, r.cfg.MinAmount, r.cfg.MaxAmount) {
		return nil, fmt.Errorf("%w: %s not in [%s, %s]",
			ErrAmountOutOfBounds, amount, r.cfg.MinAmount, r.cfg.MaxAmount)
	}

	// Refuse before creating anything at the provider: an invoice created
	// during shutdown would never get a watch.
	r.mu.Lock()
	stopped := r.stopped
	r.mu.Unlock()
	if stopped {
		return nil, ErrStopped
	}

	var inv *cryptopay.Invoice
	err := retry.Do(ctx, 3, 500*time.Millisecond, func() error {
		var err error
		inv, err = r.provider.CreateInvoice(ctx, r.cfg.Asset, amount,
			fmt.Sprintf("Balance top-up: %s %s", amount, r.cfg.Asset),
			fmt.Sprintf("user:%d", userID),
			r.cfg.WatchHorizon,
		)
		if errors.Is(err, cryptopay.ErrProviderUnavailable) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create invoice: %w", err)
	}

	if err := r.StartWatch(inv.InvoiceID, userID); err != nil {
		// Shutdown won the race after the invoice was already created. The
		// invoice is real and payable, and the manual check path can settle
		// it, so hand it back unwatched rather than losing the pay URL.
		r.logger.Warn("top-up invoice left unwatched",
			"user_id", userID, "invoice_id", inv.InvoiceID, "error", err)
		return inv, nil
	}

	r.logger.Info("top-up started",
		"user_id", userID,
		"invoice_id", inv.InvoiceID,
		"amount", amount.String(),
		"asset", r.cfg.Asset,
	)
	return inv, nil
}

// StartWatch begins polling an invoice. Starting a watch for an invoice that
// is already being watched is a no-op, so a user mashing the pay button does
// not spawn duplicate pollers.
func (r *Reconciler) StartWatch(invoiceID, userID int64) error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return ErrStopped
	}
	if _, exists := r.watches[invoiceID]; exists {
		r.mu.Unlock()
		return nil
	}
	w := &watch{invoiceID: invoiceID, userID: userID, startedAt: time.Now()}
	r.watches[invoiceID] = w
	r.wg.Add(1)
	r.mu.Unlock()

	watchesActive.Inc()
	go r.watchLoop(w)
	return nil
}

// Watching reports whether the invoice currently has an active watch.
func (r *Reconciler) Watching(invoiceID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.watches[invoiceID]
	return ok
}

// Stop terminates all watches and waits for them to drain.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	close(r.stop)
	r.mu.Unlock()

	r.wg.Wait()
}

// watchLoop polls one invoice until a terminal outcome or the horizon.
func (r *Reconciler) watchLoop(w *watch) {
	defer r.wg.Done()
	defer r.finish(w)

	deadline := w.startedAt.Add(r.cfg.WatchHorizon)
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	log := r.logger.With("invoice_id", w.invoiceID, "user_id", w.userID)

	for {
		select {
		case <-r.stop:
			log.Info("watch aborted by shutdown")
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), r.cfg.PollInterval)
		inv, err := r.provider.GetInvoice(ctx, w.invoiceID)
		cancel()

		switch {
		case errors.Is(err, cryptopay.ErrInvoiceNotFound):
			// The provider answered and the invoice is gone. Terminal.
			log.Warn("invoice vanished at provider")
			r.recordOutcome(OutcomeCancelled)
			return

		case err != nil:
			// Transient failure. Keep polling; the horizon bounds how long.
			pollErrors.Inc()
			log.Warn("invoice poll failed", "error", err)

		case inv.IsPaid():
			if r.settleWatched(w, inv, log) {
				return
			}
			// Settlement hit a transient store error before anything
			// committed. The invoice is still paid; the next tick retries.

		case inv.IsExpired():
			// Expired wins over the horizon: an invoice that is already
			// expired at the last poll reports expired, not timed out.
			log.Info("invoice expired unpaid")
			r.recordOutcome(OutcomeExpired)
			r.notifier.PaymentExpired(context.Background(), w.userID, w.invoiceID)
			return
		}

		if time.Now().After(deadline) {
			// Horizon passed. Even when the final poll errored the user
			// hears about it; silence would strand them mid-payment.
			log.Info("watch horizon passed without payment")
			r.recordOutcome(OutcomeTimedOut)
			r.notifier.PaymentTimedOut(context.Background(), w.userID, w.invoiceID)
			return
		}
	}
}

// settleWatched runs settlement for a paid invoice found by a watch loop.
// It returns true when the watch is done with the invoice: settled, settled
// elsewhere, or failed past the commit point. A pre-commit failure returns
// false so the loop polls again — nothing was committed, so the retry is
// safe.
func (r *Reconciler) settleWatched(w *watch, inv *cryptopay.Invoice, log *slog.Logger) bool {
	ctx, span := traces.StartSpan(context.Background(), "reconciler.settle",
		traces.InvoiceID(w.invoiceID),
		traces.UserID(w.userID),
		traces.Amount(inv.Amount.String()),
	)
	defer span.End()

	applied, err := r.settle(ctx, w.invoiceID, w.userID, inv)
	switch {
	case errors.Is(err, errCreditAfterCommit):
		// The mark stands; the operator alert already went out in settle.
		log.Error("settlement failed after commit", "error", err)
		return true
	case err != nil:
		pollErrors.Inc()
		log.Warn("settlement attempt failed, retrying on next poll", "error", err)
		return false
	case applied:
		log.Info("invoice settled", "amount", inv.Amount.String(), "asset", inv.Asset)
		r.recordOutcome(OutcomeCredited)
		return true
	default:
		log.Info("invoice already settled elsewhere")
		return true
	}
}

// settle applies the exactly-once credit for a paid invoice. It returns true
// when this call won the commit point and performed the credit.
//
// The order is deliberate: the invoice mark commits first, then the credit.
// If the credit fails after the mark, retrying would risk a double credit on
// a partially applied state, so the failure goes to the operator channel
// instead and a human reconciles it.
func (r *Reconciler) settle(ctx context.Context, invoiceID, userID int64, inv *cryptopay.Invoice) (bool, error) {
	processed, err := r.ledger.IsInvoiceProcessed(ctx, invoiceID)
	if err != nil {
		return false, fmt.Errorf("check processed: %w", err)
	}
	if processed {
		return false, nil
	}

	applied, err := r.ledger.MarkInvoiceProcessed(ctx, invoiceID, userID, inv.Amount, inv.Asset)
	if err != nil {
		return false, fmt.Errorf("mark processed: %w", err)
	}
	if !applied {
		// Another checker won the race between our check and our mark.
		return false, nil
	}

	newBalance, err := r.ledger.Credit(ctx, userID, inv.Amount)
	if err != nil {
		r.notifier.Alert(ctx, fmt.Sprintf(
			"credit failed after commit: invoice %d, user %d, amount %s %s: %v",
			invoiceID, userID, inv.Amount, inv.Asset, err))
		return false, fmt.Errorf("%w: invoice %d: %v", errCreditAfterCommit, invoiceID, err)
	}

	r.notifier.PaymentReceived(ctx, userID, inv.Amount, inv.Asset, newBalance)
	return true, nil
}

// CheckInvoice is the manual re-check path, for a user who paid after the
// watch gave up. It settles immediately if the provider reports the invoice
// paid, and is safe to call any number of times.
func (r *Reconciler) CheckInvoice(ctx context.Context, invoiceID, userID int64) (CheckResult, error) {
	processed, err := r.ledger.IsInvoiceProcessed(ctx, invoiceID)
	if err != nil {
		return "", fmt.Errorf("check processed: %w", err)
	}
	if processed {
		return CheckAlreadyCredited, nil
	}

	inv, err := r.provider.GetInvoice(ctx, invoiceID)
	if errors.Is(err, cryptopay.ErrInvoiceNotFound) {
		return CheckNotFound, nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrProviderFailure, err)
	}

	switch {
	case inv.IsPaid():
		applied, err := r.settle(ctx, invoiceID, userID, inv)
		if err != nil {
			return "", err
		}
		if applied {
			r.recordOutcome(OutcomeCredited)
			return CheckCredited, nil
		}
		return CheckAlreadyCredited, nil
	case inv.IsExpired():
		return CheckExpired, nil
	default:
		return CheckPending, nil
	}
}

// finish removes the watch from the registry.
func (r *Reconciler) finish(w *watch) {
	r.mu.Lock()
	delete(r.watches, w.invoiceID)
	r.mu.Unlock()
	watchesActive.Dec()
}

func (r *Reconciler) recordOutcome(o Outcome) {
	outcomesTotal.WithLabelValues(string(o)).Inc()
}
