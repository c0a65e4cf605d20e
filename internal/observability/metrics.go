package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "briefing"

type moduleMetrics struct {
	laneTasksTotal   *prometheus.CounterVec
	laneTaskDuration prometheus.Histogram
	activeLanes      prometheus.Gauge

	storedConversations prometheus.Gauge
	sessionLoadDuration prometheus.Histogram
	sessionSaveDuration prometheus.Histogram
	sessionsPruned      prometheus.Counter

	toolExecutionTotal    *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec
	toolCallsRejected     *prometheus.CounterVec
	articleCacheTotal     *prometheus.CounterVec

	invocationTotal    *prometheus.CounterVec
	invocationDuration prometheus.Histogram
	activeInvocations  prometheus.Gauge
	modelStepsTotal    *prometheus.CounterVec
	providerErrors     *prometheus.CounterVec
	providerCooldown   *prometheus.GaugeVec

	streamEventsTotal *prometheus.CounterVec
	authFailures      prometheus.Counter
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			laneTasksTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "lane_tasks_total",
					Help:      "Total per-chat lane tasks by status.",
				},
				[]string{"status"},
			),
			laneTaskDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "lane_task_duration_seconds",
					Help:      "Per-chat lane task duration in seconds.",
					Buckets:   prometheus.DefBuckets,
				},
			),
			activeLanes: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "active_lanes",
					Help:      "Chat lanes that currently hold queued or running work.",
				},
			),
			storedConversations: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "stored_conversations",
					Help:      "Conversations currently persisted on disk.",
				},
			),
			sessionLoadDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "session_load_duration_seconds",
					Help:      "Conversation load duration in seconds.",
					Buckets:   prometheus.DefBuckets,
				},
			),
			sessionSaveDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "session_save_duration_seconds",
					Help:      "Conversation save duration in seconds.",
					Buckets:   prometheus.DefBuckets,
				},
			),
			sessionsPruned: prometheus.NewCounter(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "sessions_pruned_total",
					Help:      "Conversations removed by the retention sweeper.",
				},
			),
			toolExecutionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "tool_execution_total",
					Help:      "Total tool executions by tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolExecutionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "tool_execution_duration_seconds",
					Help:      "Tool execution duration in seconds by tool.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			toolCallsRejected: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "tool_calls_rejected_total",
					Help:      "Tool calls dropped before execution by tool and reason.",
				},
				[]string{"tool", "reason"},
			),
			articleCacheTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "article_cache_total",
					Help:      "Article content cache lookups by result.",
				},
				[]string{"result"},
			),
			invocationTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "invocation_total",
					Help:      "Total chat invocations by final state.",
				},
				[]string{"outcome"},
			),
			invocationDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "invocation_duration_seconds",
					Help:      "Chat invocation duration in seconds.",
					Buckets:   prometheus.DefBuckets,
				},
			),
			activeInvocations: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "active_invocations",
					Help:      "Chat invocations currently streaming.",
				},
			),
			modelStepsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "model_steps_total",
					Help:      "Model generation steps by provider.",
				},
				[]string{"provider"},
			),
			providerErrors: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "provider_errors_total",
					Help:      "Provider stream failures by provider.",
				},
				[]string{"provider"},
			),
			providerCooldown: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "provider_cooldown_active",
					Help:      "Provider cooldown active state (1 active, 0 inactive).",
				},
				[]string{"profile"},
			),
			streamEventsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "stream_events_total",
					Help:      "Events emitted on invocation streams by type.",
				},
				[]string{"type"},
			),
			authFailures: prometheus.NewCounter(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "gateway_auth_failures_total",
					Help:      "Requests rejected for a missing or wrong shared secret.",
				},
			),
		}

		prometheus.MustRegister(
			m.laneTasksTotal,
			m.laneTaskDuration,
			m.activeLanes,
			m.storedConversations,
			m.sessionLoadDuration,
			m.sessionSaveDuration,
			m.sessionsPruned,
			m.toolExecutionTotal,
			m.toolExecutionDuration,
			m.toolCallsRejected,
			m.articleCacheTotal,
			m.invocationTotal,
			m.invocationDuration,
			m.activeInvocations,
			m.modelStepsTotal,
			m.providerErrors,
			m.providerCooldown,
			m.streamEventsTotal,
			m.authFailures,
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

func RecordLaneTask(duration time.Duration, success bool) {
	m := getMetrics()
	m.laneTasksTotal.WithLabelValues(statusLabel(success)).Inc()
	m.laneTaskDuration.Observe(duration.Seconds())
}

func SetActiveLanes(count int) {
	getMetrics().activeLanes.Set(float64(count))
}

func SetStoredConversations(count int) {
	getMetrics().storedConversations.Set(float64(count))
}

func RecordSessionLoad(duration time.Duration) {
	getMetrics().sessionLoadDuration.Observe(duration.Seconds())
}

func RecordSessionSave(duration time.Duration) {
	getMetrics().sessionSaveDuration.Observe(duration.Seconds())
}

func RecordSessionsPruned(count int) {
	getMetrics().sessionsPruned.Add(float64(count))
}

func RecordToolExecution(tool string, duration time.Duration, success bool) {
	m := getMetrics()
	m.toolExecutionTotal.WithLabelValues(tool, statusLabel(success)).Inc()
	m.toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// RecordToolCallRejected counts a tool call that never reached execution
// (budget exhausted, policy denied).
func RecordToolCallRejected(tool, reason string) {
	getMetrics().toolCallsRejected.WithLabelValues(tool, reason).Inc()
}

// RecordArticleCache counts a cache lookup; result is hit, miss or error.
func RecordArticleCache(result string) {
	getMetrics().articleCacheTotal.WithLabelValues(result).Inc()
}

func RecordInvocation(outcome string, duration time.Duration) {
	m := getMetrics()
	m.invocationTotal.WithLabelValues(outcome).Inc()
	m.invocationDuration.Observe(duration.Seconds())
}

func IncActiveInvocations() {
	getMetrics().activeInvocations.Inc()
}

func DecActiveInvocations() {
	getMetrics().activeInvocations.Dec()
}

func RecordModelStep(provider string) {
	getMetrics().modelStepsTotal.WithLabelValues(provider).Inc()
}

func RecordProviderError(provider string) {
	getMetrics().providerErrors.WithLabelValues(provider).Inc()
}

func SetProviderCooldown(profile string, active bool) {
	value := 0.0
	if active {
		value = 1.0
	}
	getMetrics().providerCooldown.WithLabelValues(profile).Set(value)
}

func RecordStreamEvent(eventType string) {
	getMetrics().streamEventsTotal.WithLabelValues(eventType).Inc()
}

func RecordAuthFailure() {
	getMetrics().authFailures.Inc()
}
