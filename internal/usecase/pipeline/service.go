// Package pipeline is the management use case: registering, inspecting, and
// directly running pipelines.
package pipeline

import (
	"context"
	"fmt"

	"github.com/model-collapse/quidditch/internal/domain"
	"github.com/model-collapse/quidditch/internal/domain/search/envelope"
	"github.com/model-collapse/quidditch/internal/domain/search/query"
	"github.com/model-collapse/quidditch/internal/metrics"
	"github.com/model-collapse/quidditch/internal/pipeline/executor"
	"github.com/model-collapse/quidditch/internal/pipeline/registry"
	"github.com/model-collapse/quidditch/internal/pipeline/stage"
)

// Service handles pipeline administration and ad-hoc runs.
type Service struct {
	store  Store
	runner Runner
}

// New creates a pipeline service.
func New(store Store, runner Runner) *Service {
	return &Service{store: store, runner: runner}
}

// Register stores a new pipeline definition.
func (s *Service) Register(_ context.Context, def *registry.PipelineDefinition) error {
	return s.store.RegisterPipeline(def)
}

// Get returns a registered definition.
func (s *Service) Get(_ context.Context, name, version string) (*registry.PipelineDefinition, error) {
	return s.store.Pipeline(name, version)
}

// List returns all registered definitions.
func (s *Service) List(_ context.Context) []*registry.PipelineDefinition {
	return s.store.ListPipelines()
}

// Delete removes a definition.
func (s *Service) Delete(_ context.Context, name, version string) error {
	return s.store.DeletePipeline(name, version)
}

// Stages returns all registered stage specs.
func (s *Service) Stages(_ context.Context) []*stage.Spec {
	return s.store.ListStages()
}

// RunInput is the payload for a direct pipeline run. Exactly one of Request
// and Envelope is set, matching the pipeline's type.
type RunInput struct {
	Request  *query.Request
	Envelope *envelope.Envelope
	Options  executor.RunOptions
}

// RunOutput mirrors RunInput for the transformed value, plus the run report.
type RunOutput struct {
	Request  *query.Request
	Envelope *envelope.Envelope
	Report   *executor.Report
}

// Run resolves a pipeline and executes it over the supplied input. Useful for
// dry-running a pipeline outside the search path.
func (s *Service) Run(ctx context.Context, name, version string, in RunInput) (*RunOutput, error) {
	p, err := s.store.Resolve(name, version)
	if err != nil {
		return nil, err
	}

	switch p.Type {
	case stage.TypeQuery:
		if in.Request == nil {
			return nil, fmt.Errorf("%w: query pipeline run requires a request", domain.ErrKindMismatch)
		}
		out, report, err := s.runner.RunQuery(ctx, p, in.Request, in.Options)
		metrics.ObserveRun(p.Name, string(p.Type), report, err)
		if err != nil {
			return nil, err
		}
		return &RunOutput{Request: out, Report: report}, nil
	case stage.TypeResult:
		if in.Envelope == nil {
			return nil, fmt.Errorf("%w: result pipeline run requires an envelope", domain.ErrKindMismatch)
		}
		out, report, err := s.runner.RunResult(ctx, p, in.Envelope, in.Options)
		metrics.ObserveRun(p.Name, string(p.Type), report, err)
		if err != nil {
			return nil, err
		}
		return &RunOutput{Envelope: out, Report: report}, nil
	default:
		return nil, fmt.Errorf("%w: pipeline type %q", domain.ErrInvalidKind, p.Type)
	}
}
