package metrics

import "github.com/model-collapse/quidditch/internal/pipeline/executor"

// ObserveRun records the metrics for one pipeline run report.
func ObserveRun(pipeline, pipelineType string, report *executor.Report, runErr error) {
	if report == nil {
		return
	}
	status := "ok"
	if runErr != nil {
		status = "aborted"
	}
	PipelineRunsTotal.WithLabelValues(pipeline, pipelineType, status).Inc()
	for _, sr := range report.Stages {
		StageDuration.WithLabelValues(pipeline, sr.Name, sr.Kind).Observe(sr.Duration.Seconds())
		if sr.Fault != nil {
			StageFaultsTotal.WithLabelValues(pipeline, sr.Name, string(sr.Fault.Reason)).Inc()
		}
	}
	for _, w := range report.Warnings {
		ContractWarningsTotal.WithLabelValues(pipeline, w.Stage).Inc()
	}
	if report.HitsDropped > 0 {
		HitsDroppedTotal.WithLabelValues(pipeline).Add(float64(report.HitsDropped))
	}
}
