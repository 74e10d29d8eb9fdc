package metrics

import "github.com/prometheus/client_golang/prometheus"

// Pipeline Prometheus metrics.
var (
	PipelineRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "quidditch",
			Name:      "pipeline_runs_total",
			Help:      "Total number of pipeline runs",
		},
		[]string{"pipeline", "type", "status"},
	)

	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "quidditch",
			Name:      "pipeline_stage_duration_seconds",
			Help:      "Stage invocation duration in seconds",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"pipeline", "stage", "kind"},
	)

	StageFaultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "quidditch",
			Name:      "pipeline_stage_faults_total",
			Help:      "Total stage faults by reason",
		},
		[]string{"pipeline", "stage", "reason"},
	)

	ContractWarningsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "quidditch",
			Name:      "pipeline_contract_warnings_total",
			Help:      "Total post-condition repairs performed by the executor",
		},
		[]string{"pipeline", "stage"},
	)

	HitsDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "quidditch",
			Name:      "pipeline_hits_dropped_total",
			Help:      "Total hits removed by filter stages",
		},
		[]string{"pipeline"},
	)

	EngineRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "quidditch",
			Name:      "engine_request_duration_seconds",
			Help:      "Search engine request duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"status"},
	)
)

var pipelineMetricsRegistered bool

// RegisterPipelineMetrics registers Prometheus pipeline metrics. Must be called once from main.
func RegisterPipelineMetrics() {
	if pipelineMetricsRegistered {
		return
	}
	prometheus.MustRegister(PipelineRunsTotal)
	prometheus.MustRegister(StageDuration)
	prometheus.MustRegister(StageFaultsTotal)
	prometheus.MustRegister(ContractWarningsTotal)
	prometheus.MustRegister(HitsDroppedTotal)
	prometheus.MustRegister(EngineRequestDuration)
	pipelineMetricsRegistered = true
}
