package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Latency: сколько времени заняла оценка (включая запись аудита)
	EvaluationDuration *prometheus.HistogramVec

	// Traffic: вердикты по классам риска
	Verdicts *prometheus.CounterVec

	// Errors: принудительные fail-safe BLOCK по причине (audit, panic, no_policy)
	FailSafeTotal *prometheus.CounterVec

	// Активная версия политики (значение 1 у текущей пары version/hash)
	PolicyInfo *prometheus.GaugeVec

	// Reload/Rollback: успешные и отклоненные попытки
	PolicyReloads *prometheus.CounterVec

	// Текущий Earned Autonomy Score
	EAS prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - Если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		EvaluationDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "governor_evaluation_duration_seconds",
			Help:    "Histogram of policy evaluation latencies.",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"verdict"}),

		Verdicts: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "governor_verdicts_total",
			Help: "Total number of verdicts by risk tier.",
		}, []string{"tier", "verdict"}),

		FailSafeTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "governor_fail_safe_total",
			Help: "Total number of verdicts forced to BLOCK by an internal failure.",
		}, []string{"cause"}),

		PolicyInfo: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "governor_policy_info",
			Help: "Active policy document (1 for the active version).",
		}, []string{"version", "hash"}),

		PolicyReloads: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "governor_policy_reloads_total",
			Help: "Policy reload and rollback attempts by operation and result.",
		}, []string{"op", "result"}),

		EAS: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "governor_eas",
			Help: "Current Earned Autonomy Score.",
		}),
	}
}
