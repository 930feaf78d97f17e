package factory

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	ManagersCreated prometheus.Counter
	Managers        prometheus.Gauge
	CreateErrors    *prometheus.CounterVec
}

// NewMetrics registers the factory collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		ManagersCreated: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "metapool_factory_managers_created_total",
			Help: "Managers deployed by the factory.",
		}),
		Managers: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "metapool_factory_managers",
			Help: "Managers currently tracked by the factory.",
		}),
		CreateErrors: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "metapool_factory_create_errors_total",
			Help: "Rejected CreateManager calls by reason.",
		}, []string{"reason"}),
	}
}
