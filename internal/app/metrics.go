package app

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/transfa/ledger-service/internal/domain"
)

// Metrics holds the ledger's Prometheus collectors. A nil *Metrics records nothing.
type Metrics struct {
	postings        *prometheus.CounterVec
	postingDuration *prometheus.HistogramVec
	postedAmount    *prometheus.CounterVec
	authFailures    *prometheus.CounterVec
	summaryDrift    prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		postings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledger",
			Name:      "postings_total",
			Help:      "Posting attempts by kind and outcome.",
		}, []string{"kind", "outcome"}),
		postingDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ledger",
			Name:      "posting_duration_seconds",
			Help:      "Time spent committing a posting.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"kind"}),
		postedAmount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledger",
			Name:      "posted_amount_total",
			Help:      "Sum of committed posting amounts by kind.",
		}, []string{"kind"}),
		authFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledger",
			Name:      "authentication_failures_total",
			Help:      "Rejected client and teller credentials.",
		}, []string{"principal"}),
		summaryDrift: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ledger",
			Name:      "summary_drift_total",
			Help:      "Reconciliations where incremental totals disagreed with a full scan.",
		}),
	}
	reg.MustRegister(m.postings, m.postingDuration, m.postedAmount, m.authFailures, m.summaryDrift)
	return m
}

func (m *Metrics) observePosting(kind domain.TransactionKind, outcome string, amount decimal.Decimal, took time.Duration) {
	if m == nil {
		return
	}
	m.postings.WithLabelValues(string(kind), outcome).Inc()
	if outcome == outcomeCommitted {
		m.postingDuration.WithLabelValues(string(kind)).Observe(took.Seconds())
		m.postedAmount.WithLabelValues(string(kind)).Add(amount.InexactFloat64())
	}
}

func (m *Metrics) authFailed(principal string) {
	if m == nil {
		return
	}
	m.authFailures.WithLabelValues(principal).Inc()
}

func (m *Metrics) driftDetected() {
	if m == nil {
		return
	}
	m.summaryDrift.Inc()
}
