// Package metrics holds the Prometheus collectors of the wallet service.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

var (
	LedgerTransactions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wallet_ledger_transactions_total",
		Help: "Ledger lines appended, by direction.",
	}, []string{"direction"})

	LedgerAmount = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wallet_ledger_amount_total",
		Help: "Sum of ledger line amounts, by direction.",
	}, []string{"direction"})

	WithdrawalTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "withdrawal_transitions_total",
		Help: "Withdrawal requests entering a status.",
	}, []string{"status"})

	WithdrawalGuardFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "withdrawal_guard_failures_total",
		Help: "Withdrawal operations refused by a guard, by operation and error kind.",
	}, []string{"operation", "reason"})

	OutboxDispatch = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_dispatch_total",
		Help: "Outbox rows handled by the dispatcher, by outcome.",
	}, []string{"outcome"})

	StoreTransientRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "store_transient_retries_total",
		Help: "Storage transactions retried after a transient failure.",
	})

	LedgerMismatches = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "wallet_ledger_mismatches",
		Help: "Wallets whose balance disagrees with their ledger at the last reconciliation.",
	})
)

var registerOnce sync.Once

// Init registers the collectors with the default registry. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			LedgerTransactions,
			LedgerAmount,
			WithdrawalTransitions,
			WithdrawalGuardFailures,
			OutboxDispatch,
			StoreTransientRetries,
			LedgerMismatches,
		)
	})
}

// ObserveLedgerLine records one appended ledger line.
func ObserveLedgerLine(direction string, amount decimal.Decimal) {
	LedgerTransactions.WithLabelValues(direction).Inc()
	LedgerAmount.WithLabelValues(direction).Add(amount.InexactFloat64())
}
