package registry

import (
	"fmt"
	"time"

	"github.com/model-collapse/quidditch/internal/domain"
	"github.com/model-collapse/quidditch/internal/domain/search/jsonmap"
	"github.com/model-collapse/quidditch/internal/pipeline/stage"
)

// FailurePolicy decides what the executor does when a stage faults.
type FailurePolicy string

const (
	// PolicyAbort ends the run and returns the original unmodified object
	// plus the fault.
	PolicyAbort FailurePolicy = "abort"
	// PolicySkip logs the fault, keeps the pre-stage object, and continues.
	PolicySkip FailurePolicy = "skip"
)

// DefaultPolicy returns the per-type default: abort for query pipelines (a
// malformed query must not reach the engine), skip for result pipelines
// (partial re-ranking beats no results).
func DefaultPolicy(t stage.PipelineType) FailurePolicy {
	if t == stage.TypeQuery {
		return PolicyAbort
	}
	return PolicySkip
}

// StageRef is one ordered entry of a pipeline definition: a reference to a
// registered stage plus its configuration.
type StageRef struct {
	Name    string         `json:"name"`
	Version string         `json:"version"`
	Config  map[string]any `json:"config,omitempty"`
	// TimeoutMillis bounds a single invocation of this stage. Zero inherits
	// the registry default.
	TimeoutMillis int64 `json:"timeout_ms,omitempty"`
}

// PipelineDefinition is a serializable pipeline configuration. Immutable once
// registered under (name, version).
type PipelineDefinition struct {
	Name        string             `json:"name"`
	Version     string             `json:"version"`
	Type        stage.PipelineType `json:"type"`
	Description string             `json:"description,omitempty"`
	Stages      []StageRef         `json:"stages"`
	OnFailure   FailurePolicy      `json:"on_failure,omitempty"`
	// ExactTotal makes the executor recompute total from the surviving hit
	// count; otherwise total stays as the engine reported it.
	ExactTotal bool      `json:"exact_total,omitempty"`
	Created    time.Time `json:"created,omitempty"`
}

// clone deep-copies the definition so registered state never aliases caller
// maps.
func (d *PipelineDefinition) clone() *PipelineDefinition {
	out := *d
	out.Stages = make([]StageRef, len(d.Stages))
	for i, ref := range d.Stages {
		out.Stages[i] = ref
		out.Stages[i].Config = jsonmap.Clone(ref.Config)
	}
	return &out
}

func (d *PipelineDefinition) validateShape() error {
	if d.Name == "" {
		return fmt.Errorf("%w: pipeline name is required", domain.ErrInvalidDefinition)
	}
	if d.Version == "" {
		return fmt.Errorf("%w: pipeline %q version is required", domain.ErrInvalidDefinition, d.Name)
	}
	if !d.Type.IsValid() {
		return fmt.Errorf("%w: pipeline %q type %q must be query or result",
			domain.ErrInvalidDefinition, d.Name, d.Type)
	}
	if len(d.Stages) == 0 {
		return fmt.Errorf("%w: pipeline %q must have at least one stage", domain.ErrInvalidDefinition, d.Name)
	}
	switch d.OnFailure {
	case "", PolicyAbort, PolicySkip:
	default:
		return fmt.Errorf("%w: pipeline %q on_failure %q must be abort or skip",
			domain.ErrInvalidDefinition, d.Name, d.OnFailure)
	}
	return nil
}

// Resolved is an immutable, executable view of a pipeline: stage runners
// built with their merged configs. Safe to reuse across concurrent runs.
type Resolved struct {
	Name        string
	Version     string
	Type        stage.PipelineType
	Description string
	Policy      FailurePolicy
	ExactTotal  bool
	Stages      []ResolvedStage
}

// ResolvedStage is one executable stage of a resolved pipeline.
type ResolvedStage struct {
	// Name is the stage reference name, unique within the pipeline. It keys
	// the stage's metadata contribution.
	Name    string
	Version string
	Kind    stage.Kind
	Config  stage.Config
	Runner  stage.Runner
	Timeout time.Duration
}
