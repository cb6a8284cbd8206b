package batch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	BatchDuration  prometheus.Histogram
	DeviceOutcomes *prometheus.CounterVec
	// Saturation: занятые слоты допуска внутри текущих стадий
	InFlight       prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		BatchDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "governor_batch_duration_seconds",
			Help:    "Histogram of batch execution time.",
			Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),

		DeviceOutcomes: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "governor_batch_device_outcomes_total",
			Help: "Per-device batch outcomes.",
		}, []string{"outcome"}), // success, failed, skipped, rolled_back

		InFlight: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "governor_batch_in_flight",
			Help: "Device operations currently admitted by the batch gate.",
		}),
	}
}
