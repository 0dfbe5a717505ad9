package ledger

import "github.com/prometheus/client_golang/prometheus"

var (
	ledgerCreditsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "paycore",
		Name:      "ledger_credits_total",
		Help:      "Total balance credits applied.",
	})

	ledgerDebitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "paycore",
		Name:      "ledger_debits_total",
		Help:      "Total balance debits applied.",
	})

	// ledgerDuplicateMarksTotal counts invoice marks that lost the unique-insert
	// race. Nonzero values are normal under concurrent checkers.
	ledgerDuplicateMarksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "paycore",
		Name:      "ledger_duplicate_invoice_marks_total",
		Help:      "Total invoice marks skipped because the invoice was already processed.",
	})
)

func init() {
	prometheus.MustRegister(
		ledgerCreditsTotal,
		ledgerDebitsTotal,
		ledgerDuplicateMarksTotal,
	)
}
