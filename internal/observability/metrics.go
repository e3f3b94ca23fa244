package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce          sync.Once
	httpDurationHistogram *prometheus.HistogramVec
	settlementCounter     *prometheus.CounterVec
	reconciliationCounter *prometheus.CounterVec
	refundCounter         *prometheus.CounterVec
	webhookCounter        *prometheus.CounterVec
	workerRunCounter      *prometheus.CounterVec
	pollAttemptHistogram  prometheus.Histogram
)

// Init registers all Prometheus collectors.
func Init() {
	registerOnce.Do(func() {
		httpDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"})

		settlementCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "transaction_settlements_total",
			Help: "Settlement attempts by transaction type and outcome",
		}, []string{"type", "outcome"})

		reconciliationCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "transaction_reconciliations_total",
			Help: "Status reconciliation outcomes",
		}, []string{"outcome"})

		refundCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "transaction_refunds_total",
			Help: "Refund processing outcomes",
		}, []string{"outcome"})

		webhookCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webhook_deliveries_total",
			Help: "Webhook delivery outcomes",
		}, []string{"status"})

		workerRunCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_runs_total",
			Help: "Background worker run outcomes",
		}, []string{"worker", "result"})

		pollAttemptHistogram = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "transaction_poll_attempts",
			Help:    "Status poll attempts needed before a transaction settled",
			Buckets: []float64{1, 2, 3, 5, 10, 15, 20, 30},
		})

		prometheus.MustRegister(
			httpDurationHistogram,
			settlementCounter,
			reconciliationCounter,
			refundCounter,
			webhookCounter,
			workerRunCounter,
			pollAttemptHistogram,
		)
	})
}

func ObserveHTTP(method, path string, status int, duration time.Duration) {
	if httpDurationHistogram == nil {
		return
	}
	httpDurationHistogram.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
}

func IncrementSettlement(transactionType, outcome string) {
	if settlementCounter == nil {
		return
	}
	settlementCounter.WithLabelValues(transactionType, outcome).Inc()
}

func IncrementReconciliation(outcome string) {
	if reconciliationCounter == nil {
		return
	}
	reconciliationCounter.WithLabelValues(outcome).Inc()
}

func IncrementRefund(outcome string) {
	if refundCounter == nil {
		return
	}
	refundCounter.WithLabelValues(outcome).Inc()
}

func IncrementWebhookDelivery(status string) {
	if webhookCounter == nil {
		return
	}
	webhookCounter.WithLabelValues(status).Inc()
}

func IncrementWorkerRun(worker, result string) {
	if workerRunCounter == nil {
		return
	}
	workerRunCounter.WithLabelValues(worker, result).Inc()
}

func ObservePollAttempts(attempts int) {
	if pollAttemptHistogram == nil {
		return
	}
	pollAttemptHistogram.Observe(float64(attempts))
}
