package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Orchestra/internal/domain"
)

const namespace = "orchestra"

// Metrics — Prometheus метрики оркестратора.
//
// Метрики регистрируются в собственном реестре, поэтому несколько
// экземпляров (например, в тестах) не конфликтуют.
type Metrics struct {
	registry *prometheus.Registry

	TasksByStatus      *prometheus.GaugeVec
	WorkerUtilization  prometheus.Gauge
	ParallelEfficiency prometheus.Gauge
	ActiveConflicts    *prometheus.GaugeVec
	PendingActions     prometheus.Gauge

	Events      *prometheus.CounterVec
	Resolutions *prometheus.CounterVec

	Cycles        prometheus.Counter
	CycleErrors   *prometheus.CounterVec
	CycleDuration prometheus.Histogram

	HTTPRequests *prometheus.CounterVec
}

// NewMetrics создаёт и регистрирует метрики.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		TasksByStatus: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tasks",
			Help:      "Tasks in the graph by status",
		}, []string{"status"}),
		WorkerUtilization: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_utilization_ratio",
			Help:      "Assigned task slots divided by total worker capacity",
		}),
		ParallelEfficiency: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "parallel_efficiency_ratio",
			Help:      "Share of in-progress tasks that are parallelizable",
		}),
		ActiveConflicts: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_conflicts",
			Help:      "Unresolved conflicts by type",
		}, []string{"type"}),
		PendingActions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_operator_actions",
			Help:      "Resolution steps waiting for an operator",
		}),

		Events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Emitted events by type",
		}, []string{"type"}),
		Resolutions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conflict_resolutions_total",
			Help:      "Conflict resolution attempts by strategy and outcome",
		}, []string{"strategy", "outcome"}),

		Cycles: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loop_cycles_total",
			Help:      "Completed orchestration cycles",
		}),
		CycleErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loop_step_errors_total",
			Help:      "Failed orchestration sub-steps",
		}, []string{"step"}),
		CycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "loop_cycle_duration_seconds",
			Help:      "Orchestration cycle duration",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method and status code",
		}, []string{"method", "code"}),
	}
}

// Registry возвращает реестр метрик.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler возвращает обработчик /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// InstrumentHandler считает запросы к h по методу и коду ответа.
func (m *Metrics) InstrumentHandler(h http.Handler) http.Handler {
	return promhttp.InstrumentHandlerCounter(m.HTTPRequests, h)
}

// SetTaskCounts обновляет число задач по статусам.
// Статусы без задач выставляются в 0.
func (m *Metrics) SetTaskCounts(counts map[domain.TaskStatus]int) {
	for _, st := range domain.AllTaskStatuses {
		m.TasksByStatus.WithLabelValues(string(st)).Set(float64(counts[st]))
	}
}

// SetActiveConflicts обновляет число активных конфликтов по типам.
func (m *Metrics) SetActiveConflicts(counts map[domain.ConflictType]int) {
	for _, t := range domain.AllConflictTypes {
		m.ActiveConflicts.WithLabelValues(string(t)).Set(float64(counts[t]))
	}
}

// ObserveCycle учитывает завершённый цикл оркестрации.
func (m *Metrics) ObserveCycle(d time.Duration) {
	m.Cycles.Inc()
	m.CycleDuration.Observe(d.Seconds())
}

// Emit реализует events.Sink: считает события и исходы разрешений.
func (m *Metrics) Emit(ev domain.Event) {
	m.Events.WithLabelValues(string(ev.Type)).Inc()

	strategy, _ := ev.Data["strategy"].(string)
	switch ev.Type {
	case domain.EventConflictResolved:
		m.Resolutions.WithLabelValues(strategy, "success").Inc()
	case domain.EventConflictResolutionFail:
		m.Resolutions.WithLabelValues(strategy, "failure").Inc()
	}
}
