package executor

import (
	"fmt"
	"time"
)

// FaultReason classifies how a stage invocation went wrong.
type FaultReason string

const (
	// FaultError means the stage returned a non-nil error.
	FaultError FaultReason = "error"
	// FaultTimeout means the stage exceeded its per-stage deadline.
	FaultTimeout FaultReason = "timeout"
	// FaultPanic means the stage panicked; recovered at the invocation
	// boundary.
	FaultPanic FaultReason = "panic"
	// FaultOutput means the stage returned an unusable value, such as a nil
	// request or envelope.
	FaultOutput FaultReason = "output"
)

// StageFault describes a single failed stage invocation. It is a run-time
// fault, distinct from the definition errors the registry raises.
type StageFault struct {
	Stage   string
	Version string
	Reason  FaultReason
	Err     error
}

func (f *StageFault) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("stage %s@%s: %s: %v", f.Stage, f.Version, f.Reason, f.Err)
	}
	return fmt.Sprintf("stage %s@%s: %s", f.Stage, f.Version, f.Reason)
}

func (f *StageFault) Unwrap() error { return f.Err }

// ContractWarning records a post-condition the executor had to repair rather
// than reject, such as a stale max_score after a re-rank.
type ContractWarning struct {
	Stage  string
	Detail string
}

func (w ContractWarning) String() string {
	return fmt.Sprintf("stage %s: %s", w.Stage, w.Detail)
}

// StageReport is the per-stage slice of a run report.
type StageReport struct {
	Name     string
	Version  string
	Kind     string
	Duration time.Duration
	// Skipped is set when the stage faulted under the skip policy and its
	// output was discarded.
	Skipped bool
	Fault   *StageFault
}

// Report is the observable outcome of one pipeline run.
type Report struct {
	RunID    string
	Pipeline string
	Version  string
	Stages   []StageReport
	Warnings []ContractWarning
	// HitsDropped counts hits removed by filter stages across the run.
	HitsDropped int
}

// Faults collects the faults of all stages that reported one.
func (r *Report) Faults() []*StageFault {
	var out []*StageFault
	for _, s := range r.Stages {
		if s.Fault != nil {
			out = append(out, s.Fault)
		}
	}
	return out
}
