// Package notify delivers user-facing payment notifications and operator
// alerts over Telegram.
//
// Delivery is fire-and-forget: a notification failure is logged and counted
// but never propagated, because settlement must not depend on messaging.
package notify

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

// Notifier delivers settlement outcomes to users and alerts to operators.
type Notifier interface {
	// PaymentReceived tells the user their balance was credited.
	PaymentReceived(ctx context.Context, userID int64, amount decimal.Decimal, asset string, newBalance decimal.Decimal)

	// PaymentTimedOut tells the user the watch window closed without payment.
	PaymentTimedOut(ctx context.Context, userID, invoiceID int64)

	// PaymentExpired tells the user the invoice expired unpaid.
	PaymentExpired(ctx context.Context, userID, invoiceID int64)

	// Alert sends an operator alert to the admin channel. Used for conditions
	// that need a human, like a credit failure after the commit point.
	Alert(ctx context.Context, text string)
}

var (
	notificationsSentTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paycore",
		Name:      "notifications_sent_total",
		Help:      "Total notifications delivered, by kind.",
	}, []string{"kind"})

	notificationsFailedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paycore",
		Name:      "notifications_failed_total",
		Help:      "Total notification delivery failures, by kind.",
	}, []string{"kind"})
)

func init() {
	prometheus.MustRegister(notificationsSentTotal, notificationsFailedTotal)
}

// Nop is a Notifier that discards everything. Used in tests and when no bot
// token is configured.
type Nop struct{}

func (Nop) PaymentReceived(context.Context, int64, decimal.Decimal, string, decimal.Decimal) {}
func (Nop) PaymentTimedOut(context.Context, int64, int64)                                   {}
func (Nop) PaymentExpired(context.Context, int64, int64)                                    {}
func (Nop) Alert(context.Context, string)                                                   {}
