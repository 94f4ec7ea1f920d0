package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	dispatchTotal    *prometheus.CounterVec
	dispatchDuration prometheus.Histogram

	modelInvocationTotal    *prometheus.CounterVec
	modelInvocationDuration *prometheus.HistogramVec
	modelTokensTotal        *prometheus.CounterVec

	capabilityInvocationTotal    *prometheus.CounterVec
	capabilityInvocationDuration *prometheus.HistogramVec

	usageRecordsTotal *prometheus.CounterVec
	usageQueueDepth   prometheus.Gauge
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			dispatchTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agentcore_dispatch_total",
					Help: "Total dispatched requests by terminal state.",
				},
				[]string{"state"},
			),
			dispatchDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "agentcore_dispatch_duration_seconds",
					Help:    "End-to-end request handling duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			modelInvocationTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agentcore_model_invocation_total",
					Help: "Total model provider calls by provider and status.",
				},
				[]string{"provider", "status"},
			),
			modelInvocationDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "agentcore_model_invocation_duration_seconds",
					Help:    "Model provider call duration in seconds by provider.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
			modelTokensTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agentcore_model_tokens_total",
					Help: "Tokens reported by model invocations by direction.",
				},
				[]string{"direction"},
			),
			capabilityInvocationTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agentcore_capability_invocations_total",
					Help: "Total capability invocations by capability and status.",
				},
				[]string{"capability", "status"},
			),
			capabilityInvocationDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "agentcore_capability_invocation_duration_seconds",
					Help:    "Capability invocation duration in seconds by capability.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"capability"},
			),
			usageRecordsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agentcore_usage_records_total",
					Help: "Usage records handled by the reporter by status (sent, failed, dropped).",
				},
				[]string{"status"},
			),
			usageQueueDepth: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "agentcore_usage_queue_depth",
					Help: "Usage records buffered and waiting for delivery.",
				},
			),
		}

		prometheus.MustRegister(
			m.dispatchTotal,
			m.dispatchDuration,
			m.modelInvocationTotal,
			m.modelInvocationDuration,
			m.modelTokensTotal,
			m.capabilityInvocationTotal,
			m.capabilityInvocationDuration,
			m.usageRecordsTotal,
			m.usageQueueDepth,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

func RecordDispatch(state string, duration time.Duration) {
	m := getMetrics()
	m.dispatchTotal.WithLabelValues(state).Inc()
	m.dispatchDuration.Observe(duration.Seconds())
}

func RecordModelInvocation(provider string, duration time.Duration, success bool) {
	m := getMetrics()
	m.modelInvocationTotal.WithLabelValues(provider, statusLabel(success)).Inc()
	m.modelInvocationDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

func RecordTokens(input, output uint64) {
	m := getMetrics()
	m.modelTokensTotal.WithLabelValues("input").Add(float64(input))
	m.modelTokensTotal.WithLabelValues("output").Add(float64(output))
}

func RecordCapabilityInvocation(capability string, duration time.Duration, success bool) {
	m := getMetrics()
	m.capabilityInvocationTotal.WithLabelValues(capability, statusLabel(success)).Inc()
	m.capabilityInvocationDuration.WithLabelValues(capability).Observe(duration.Seconds())
}

func RecordUsageRecord(status string) {
	m := getMetrics()
	m.usageRecordsTotal.WithLabelValues(status).Inc()
}

func SetUsageQueueDepth(depth int) {
	m := getMetrics()
	m.usageQueueDepth.Set(float64(depth))
}
