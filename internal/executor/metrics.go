package executor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Saturation: состояние Circuit Breaker (0 - closed, 1 - half-open, 2 - open)
	CircuitBreakerState *prometheus.GaugeVec

	// Latency вызовов исполнителя
	CallDuration *prometheus.HistogramVec

	// Errors: классификация отказов
	ErrorTotal *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		CircuitBreakerState: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "governor_executor_circuit_breaker_state",
			Help: "Current state of the executor circuit breaker (0=closed, 1=half-open, 2=open).",
		}, []string{"breaker"}),

		CallDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "governor_executor_call_duration_seconds",
			Help:    "Histogram of device executor call latencies.",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"op", "status"}),

		ErrorTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "governor_executor_errors_total",
			Help: "Total number of executor errors by type.",
		}, []string{"type"}), // типы: connectivity, throttle, busy, circuit_open, other
	}
}
