package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// SyncMetrics records registry sync outcomes.
type SyncMetrics struct {
	refreshes      *prometheus.CounterVec
	publishes      *prometheus.CounterVec
	remoteFailures *prometheus.CounterVec
	catalogSize    prometheus.Gauge
}

func NewSyncMetrics(reg prometheus.Registerer) (*SyncMetrics, error) {
	m := &SyncMetrics{
		refreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "wwnotes",
				Name:      "refreshes_total",
				Help:      "Registry refreshes by outcome.",
			},
			[]string{"result"},
		),
		publishes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "wwnotes",
				Name:      "publishes_total",
				Help:      "Remote snapshot publish cycles by outcome.",
			},
			[]string{"result"},
		),
		remoteFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "wwnotes",
				Name:      "remote_failures_total",
				Help:      "Failed remote store operations.",
			},
			[]string{"op"},
		),
		catalogSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "wwnotes",
			Name:      "catalog_documents",
			Help:      "Documents currently held by the registry.",
		}),
	}

	for _, c := range []prometheus.Collector{m.refreshes, m.publishes, m.remoteFailures, m.catalogSize} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *SyncMetrics) RefreshCompleted(result string) {
	m.refreshes.WithLabelValues(result).Inc()
}

func (m *SyncMetrics) PublishCompleted(result string) {
	m.publishes.WithLabelValues(result).Inc()
}

func (m *SyncMetrics) RemoteFailure(op string) {
	m.remoteFailures.WithLabelValues(op).Inc()
}

func (m *SyncMetrics) CatalogSize(n int) {
	m.catalogSize.Set(float64(n))
}
