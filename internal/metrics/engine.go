package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	engineCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "resumerank",
			Subsystem: "engine",
			Name:      "call_duration_seconds",
			Help:      "打分引擎调用耗时分布（秒）。",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"operation"},
	)

	engineCallTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "resumerank",
			Subsystem: "engine",
			Name:      "calls_total",
			Help:      "打分引擎调用总数。",
		},
		[]string{"operation", "outcome"},
	)
)

// ObserveEngineCall 记录一次引擎调用的耗时与结果。
func ObserveEngineCall(operation string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	engineCallDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	engineCallTotal.WithLabelValues(operation, outcome).Inc()
}
