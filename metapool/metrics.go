package metapool

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is shared by every manager created from one registry.
type Metrics struct {
	Operations        *prometheus.CounterVec
	RebalanceDuration prometheus.Histogram
	DeployedLiquidity *prometheus.GaugeVec
	Migrations        prometheus.Counter
}

// NewMetrics registers the manager collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		Operations: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "metapool_manager_operations_total",
			Help: "Manager operations by name and result.",
		}, []string{"op", "result"}),
		RebalanceDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "metapool_manager_rebalance_duration_seconds",
			Help:    "Wall time spent in Rebalance.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		DeployedLiquidity: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "metapool_manager_deployed_liquidity",
			Help: "Liquidity the manager has deployed in its active range.",
		}, []string{"manager"}),
		Migrations: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "metapool_manager_migrations_total",
			Help: "Rebalances that adopted staged parameters.",
		}),
	}
}
