package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики движка. Регистрируются в default registry,
// экспортируются через promhttp на /metrics.
var (
	// WorkflowsAdvanced — количество тактов планирования.
	WorkflowsAdvanced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "canis_workflows_advanced_total",
		Help: "Total scheduler ticks across all workflows",
	})

	// WorkflowsFinished — завершённые workflow по итоговому статусу.
	WorkflowsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "canis_workflows_finished_total",
		Help: "Workflows that reached a terminal status",
	}, []string{"status"})

	// StepsStarted — запущенные шаги по виду.
	StepsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "canis_steps_started_total",
		Help: "Steps started, by kind",
	}, []string{"kind"})

	// StepsFinished — завершённые шаги по виду и статусу.
	StepsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "canis_steps_finished_total",
		Help: "Steps that reached a terminal status, by kind and status",
	}, []string{"kind", "status"})

	// BatchJobsSubmitted — отправленные batch-задания.
	BatchJobsSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "canis_batch_jobs_submitted_total",
		Help: "Batch jobs submitted to the inference service",
	})

	// BatchRequestsFailed — запросы, завершившиеся ошибкой внутри batch.
	BatchRequestsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "canis_batch_requests_failed_total",
		Help: "Individual requests that failed inside completed batches",
	})

	// ActiveWorkflows — количество workflow в обработке.
	ActiveWorkflows = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "canis_active_workflows",
		Help: "Workflows currently being advanced by the engine",
	})

	// AdvanceDuration — длительность одного такта планирования.
	AdvanceDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "canis_advance_duration_seconds",
		Help:    "Duration of a single scheduler tick",
		Buckets: prometheus.DefBuckets,
	})
)
