package runtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Transaction status label values.
const (
	statusSuccess = "success"
	statusFailed  = "failed"
)

// Metrics holds the runtime's Prometheus collectors.
type Metrics struct {
	TransactionsTotal   *prometheus.CounterVec
	InstructionsTotal   *prometheus.CounterVec
	TransactionDuration prometheus.Histogram
}

// NewMetrics registers the runtime collectors on reg. A nil reg yields
// working but unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TransactionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "journal_runtime_transactions_total",
			Help: "Transactions executed, by outcome",
		}, []string{"status"}),
		InstructionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "journal_runtime_instructions_total",
			Help: "Instructions dispatched, by program",
		}, []string{"program"}),
		TransactionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "journal_runtime_transaction_duration_seconds",
			Help:    "Time spent executing a transaction",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
