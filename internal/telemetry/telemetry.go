// Package telemetry exposes the update-only metrics surface required by
// spec.md §4.1: counters, gauges, and histograms for every other component
// to push into. No business decisions are derived from telemetry.
//
// Grounded on original_source/model_ops_coordinator/core/telemetry.py
// (prometheus_client Counter/Gauge/Histogram), rendered with
// github.com/prometheus/client_golang, the library both
// kaito-project-kaito and kube-nexus-kubenexus-scheduler depend on.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Telemetry owns a private registry so multiple coordinators can coexist
// in one process (tests, multi-instance hosts) without colliding on the
// default global registry.
type Telemetry struct {
	registry *prometheus.Registry

	ModelLoadsTotal   *prometheus.CounterVec
	ModelUnloadsTotal *prometheus.CounterVec
	InferenceTotal    *prometheus.CounterVec
	InferenceTokens   *prometheus.CounterVec
	ErrorsTotal       *prometheus.CounterVec
	BreakerTrips      *prometheus.CounterVec
	BulkheadRejects   *prometheus.CounterVec
	GoalCompletions   *prometheus.CounterVec
	JobCompletions    *prometheus.CounterVec

	Uptime            prometheus.Gauge
	CPUPercent        prometheus.Gauge
	MemUsedMB         prometheus.Gauge
	MemTotalMB        prometheus.Gauge
	DeviceGPUPercent  *prometheus.GaugeVec
	DeviceVRAMUsedMB  *prometheus.GaugeVec
	DeviceVRAMTotalMB *prometheus.GaugeVec
	ModelsLoaded      prometheus.Gauge
	ModelVRAMMB       *prometheus.GaugeVec
	ActiveInference   *prometheus.GaugeVec
	BulkheadInFlight  *prometheus.GaugeVec
	BulkheadQueueDep  *prometheus.GaugeVec
	BreakerState      *prometheus.GaugeVec
	LearningJobCounts *prometheus.GaugeVec
	GoalCounts        *prometheus.GaugeVec

	ModelLoadDuration   prometheus.Histogram
	InferenceDuration   prometheus.Histogram
	LearningJobDuration prometheus.Histogram
	GoalCompletionTime  prometheus.Histogram

	startedAt time.Time
}

// New constructs and registers every metric named in spec.md §4.1.
func New() *Telemetry {
	reg := prometheus.NewRegistry()
	t := &Telemetry{
		registry:  reg,
		startedAt: time.Now(),

		ModelLoadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "moc_model_loads_total", Help: "Model load attempts by name and outcome.",
		}, []string{"name", "outcome"}),
		ModelUnloadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "moc_model_unloads_total", Help: "Model unload attempts by name and outcome.",
		}, []string{"name", "outcome"}),
		InferenceTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "moc_inference_requests_total", Help: "Inference requests by name and outcome.",
		}, []string{"name", "outcome"}),
		InferenceTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "moc_inference_tokens_total", Help: "Tokens generated by model name.",
		}, []string{"name"}),
		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "moc_errors_total", Help: "Errors by kind and component.",
		}, []string{"kind", "component"}),
		BreakerTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "moc_circuit_breaker_trips_total", Help: "Circuit breaker trips by operation.",
		}, []string{"operation"}),
		BulkheadRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "moc_bulkhead_rejections_total", Help: "Bulkhead rejections by operation.",
		}, []string{"operation"}),
		GoalCompletions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "moc_goal_completions_total", Help: "Goal completions by outcome.",
		}, []string{"outcome"}),
		JobCompletions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "moc_learning_job_completions_total", Help: "Learning job completions by outcome.",
		}, []string{"outcome"}),

		Uptime:     prometheus.NewGauge(prometheus.GaugeOpts{Name: "moc_uptime_seconds", Help: "Process uptime."}),
		CPUPercent: prometheus.NewGauge(prometheus.GaugeOpts{Name: "moc_cpu_percent", Help: "Host CPU utilization percent."}),
		MemUsedMB:  prometheus.NewGauge(prometheus.GaugeOpts{Name: "moc_memory_used_mb", Help: "Host memory used, MB."}),
		MemTotalMB: prometheus.NewGauge(prometheus.GaugeOpts{Name: "moc_memory_total_mb", Help: "Host memory total, MB."}),
		DeviceGPUPercent: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "moc_device_gpu_percent", Help: "Per-device GPU utilization percent.",
		}, []string{"device"}),
		DeviceVRAMUsedMB: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "moc_device_vram_used_mb", Help: "Per-device VRAM used, MB.",
		}, []string{"device"}),
		DeviceVRAMTotalMB: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "moc_device_vram_total_mb", Help: "Per-device VRAM total, MB.",
		}, []string{"device"}),
		ModelsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{Name: "moc_models_loaded", Help: "Count of currently loaded models."}),
		ModelVRAMMB: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "moc_model_vram_mb", Help: "Per-model VRAM allocation, MB.",
		}, []string{"name"}),
		ActiveInference: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "moc_active_inference_requests", Help: "Active inference requests per model.",
		}, []string{"name"}),
		BulkheadInFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "moc_bulkhead_in_flight", Help: "In-flight bulkhead permits per operation.",
		}, []string{"operation"}),
		BulkheadQueueDep: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "moc_bulkhead_queue_depth", Help: "Waiting bulkhead acquirers per operation.",
		}, []string{"operation"}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "moc_circuit_breaker_state", Help: "Circuit breaker state per operation (0=closed,1=open,2=half-open).",
		}, []string{"operation"}),
		LearningJobCounts: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "moc_learning_jobs", Help: "Learning job counts by state.",
		}, []string{"state"}),
		GoalCounts: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "moc_goals", Help: "Goal counts by state and priority.",
		}, []string{"state", "priority"}),

		ModelLoadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "moc_model_load_duration_seconds", Help: "Model load duration.", Buckets: prometheus.DefBuckets,
		}),
		InferenceDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "moc_inference_duration_seconds", Help: "Inference call duration.", Buckets: prometheus.DefBuckets,
		}),
		LearningJobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "moc_learning_job_duration_seconds", Help: "Learning job duration.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		GoalCompletionTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "moc_goal_completion_seconds", Help: "Goal completion time.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
	}

	reg.MustRegister(
		t.ModelLoadsTotal, t.ModelUnloadsTotal, t.InferenceTotal, t.InferenceTokens,
		t.ErrorsTotal, t.BreakerTrips, t.BulkheadRejects, t.GoalCompletions, t.JobCompletions,
		t.Uptime, t.CPUPercent, t.MemUsedMB, t.MemTotalMB,
		t.DeviceGPUPercent, t.DeviceVRAMUsedMB, t.DeviceVRAMTotalMB,
		t.ModelsLoaded, t.ModelVRAMMB, t.ActiveInference,
		t.BulkheadInFlight, t.BulkheadQueueDep, t.BreakerState,
		t.LearningJobCounts, t.GoalCounts,
		t.ModelLoadDuration, t.InferenceDuration, t.LearningJobDuration, t.GoalCompletionTime,
	)
	return t
}

// Handler exposes the Prometheus exposition format. This is the only
// place in the tree that cares about wire format for metrics.
func (t *Telemetry) Handler() http.Handler {
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{})
}

// RefreshUptime updates the uptime gauge; called by the telemetry-refresh
// background loop (spec.md §4.7).
func (t *Telemetry) RefreshUptime() {
	t.Uptime.Set(time.Since(t.startedAt).Seconds())
}
