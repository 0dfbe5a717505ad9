package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/unikbot/paycore/internal/money"
)

const defaultAPIBase = "https://api.telegram.org"

// Telegram delivers notifications through the Telegram Bot API.
type Telegram struct {
	apiBase     string
	botToken    string
	adminChatID int64
	client      *http.Client
	logger      *slog.Logger
}

// TelegramOption configures a Telegram notifier.
type TelegramOption func(*Telegram)

// WithAPIBase overrides the Telegram API base URL (used by tests).
func WithAPIBase(base string) TelegramOption {
	return func(t *Telegram) { t.apiBase = base }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) TelegramOption {
	return func(t *Telegram) { t.client = hc }
}

// NewTelegram creates a Telegram notifier. adminChatID receives operator
// alerts; user notifications go to the user's own chat id.
func NewTelegram(botToken string, adminChatID int64, logger *slog.Logger, opts ...TelegramOption) *Telegram {
	t := &Telegram{
		apiBase:     defaultAPIBase,
		botToken:    botToken,
		adminChatID: adminChatID,
		client:      &http.Client{Timeout: 5 * time.Second},
		logger:      logger,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Telegram) PaymentReceived(ctx context.Context, userID int64, amount decimal.Decimal, asset string, newBalance decimal.Decimal) {
	text := fmt.Sprintf("✅ Payment received: %s %s\nYour balance is now %s %s.",
		money.Format(amount), asset, money.Format(newBalance), asset)
	t.send(ctx, "payment_received", userID, text)
}

func (t *Telegram) PaymentTimedOut(ctx context.Context, userID, invoiceID int64) {
	text := fmt.Sprintf("⌛ We stopped checking invoice %d.\nIf you already paid, press \"Check payment\" to claim your credit.", invoiceID)
	t.send(ctx, "payment_timed_out", userID, text)
}

func (t *Telegram) PaymentExpired(ctx context.Context, userID, invoiceID int64) {
	text := fmt.Sprintf("❌ Invoice %d expired unpaid.\nCreate a new top-up to continue.", invoiceID)
	t.send(ctx, "payment_expired", userID, text)
}

func (t *Telegram) Alert(ctx context.Context, text string) {
	t.send(ctx, "operator_alert", t.adminChatID, "🚨 "+text)
}

type sendMessageRequest struct {
	ChatID int64  `json:"chat_id"`
	Text   string `json:"text"`
}

type sendMessageResponse struct {
	Ok          bool   `json:"ok"`
	Description string `json:"description,omitempty"`
}

// send posts a sendMessage call. Failures are logged and counted, never
// returned: callers must not block or fail on notification delivery.
func (t *Telegram) send(ctx context.Context, kind string, chatID int64, text string) {
	body, err := json.Marshal(sendMessageRequest{ChatID: chatID, Text: text})
	if err != nil {
		t.fail(kind, chatID, err)
		return
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		t.fail(kind, chatID, err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		t.fail(kind, chatID, err)
		return
	}
	defer resp.Body.Close()

	var result sendMessageResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.fail(kind, chatID, err)
		return
	}
	if !result.Ok {
		t.fail(kind, chatID, fmt.Errorf("telegram: %s", result.Description))
		return
	}

	notificationsSentTotal.WithLabelValues(kind).Inc()
}

func (t *Telegram) fail(kind string, chatID int64, err error) {
	notificationsFailedTotal.WithLabelValues(kind).Inc()
	t.logger.Warn("notification delivery failed",
		"kind", kind,
		"chat_id", chatID,
		"error", err,
	)
}
