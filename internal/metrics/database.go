package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Operation status labels.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Database holds the orchestrator's Prometheus collectors.
type Database struct {
	Operations        *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	Cache             *prometheus.CounterVec
	Transactions      *prometheus.CounterVec
}

// NewDatabase creates unregistered database collectors.
func NewDatabase() *Database {
	return &Database{
		Operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "docbase",
				Name:      "operations_total",
				Help:      "Total number of database operations",
			},
			[]string{"operation", "status"},
		),
		OperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "docbase",
				Name:      "operation_duration_seconds",
				Help:      "Database operation duration in seconds",
				Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"operation"},
		),
		Cache: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "docbase",
				Name:      "cache_total",
				Help:      "Document cache hits and misses",
			},
			[]string{"result"}, // "hit" / "miss"
		),
		Transactions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "docbase",
				Name:      "transactions_total",
				Help:      "Finished transactions by outcome",
			},
			[]string{"outcome"},
		),
	}
}

// Register registers every collector with reg. Collectors that are
// already registered are skipped.
func (m *Database) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.Operations, m.OperationDuration, m.Cache, m.Transactions} {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// Observe records one finished operation.
func (m *Database) Observe(operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	status := StatusOK
	if err != nil {
		status = StatusError
	}
	m.Operations.WithLabelValues(operation, status).Inc()
	m.OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// ObserveTransaction counts a transaction outcome.
func (m *Database) ObserveTransaction(outcome string) {
	if m == nil {
		return
	}
	m.Transactions.WithLabelValues(outcome).Inc()
}

// CacheCounter returns the cache hit/miss counter, or nil.
func (m *Database) CacheCounter() *prometheus.CounterVec {
	if m == nil {
		return nil
	}
	return m.Cache
}
