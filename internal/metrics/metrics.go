// metrics содержит счётчики Prometheus сервиса аутентификации.
// Регистрируются в реестре по умолчанию и отдаются через /metrics (promhttp).
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Значения метки result.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

var (
	authOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_operations_total",
		Help: "Total number of auth operations by operation and result",
	}, []string{"op", "result"})

	authDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "auth_operation_duration_seconds",
		Help:    "Latency of auth operations in seconds (bcrypt dominated)",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	rateLimitDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ratelimit_decisions_total",
		Help: "Total number of rate limiter decisions by class and decision",
	}, []string{"class", "decision"})

	rateLimitStoreErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ratelimit_store_errors_total",
		Help: "Total number of rate limit store failures (requests let through)",
	}, []string{"class"})
)

// ObserveAuth фиксирует завершение операции op: счётчик и длительность.
func ObserveAuth(op string, started time.Time, err error) {
	result := ResultOK
	if err != nil {
		result = ResultError
	}

	authOperations.WithLabelValues(op, result).Inc()
	authDuration.WithLabelValues(op).Observe(time.Since(started).Seconds())
}

// ObserveRateLimit фиксирует решение лимитера для класса маршрутов.
func ObserveRateLimit(class string, allowed bool) {
	decision := "allow"
	if !allowed {
		decision = "deny"
	}

	rateLimitDecisions.WithLabelValues(class, decision).Inc()
}

// ObserveRateLimitStoreError фиксирует отказ хранилища бакетов.
func ObserveRateLimitStoreError(class string) {
	rateLimitStoreErrors.WithLabelValues(class).Inc()
}
