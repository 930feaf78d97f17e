package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics covers transaction outcomes and event delivery.
type Metrics struct {
	Transactions  *prometheus.CounterVec
	JournalLength prometheus.Histogram
	EventsEmitted *prometheus.CounterVec
	SinkErrors    prometheus.Counter
}

// NewMetrics registers the engine collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		Transactions: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "metapool_engine_transactions_total",
			Help: "Top-level transactions by outcome (committed or reverted).",
		}, []string{"result"}),
		JournalLength: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "metapool_engine_journal_entries",
			Help:    "Number of undo entries held by a transaction when it finished.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		EventsEmitted: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "metapool_engine_events_total",
			Help: "Committed event records by kind.",
		}, []string{"kind"}),
		SinkErrors: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "metapool_engine_sink_errors_total",
			Help: "Event batches the sink failed to persist.",
		}),
	}
}
