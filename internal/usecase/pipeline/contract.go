package pipeline

import (
	"context"

	"github.com/model-collapse/quidditch/internal/domain/search/envelope"
	"github.com/model-collapse/quidditch/internal/domain/search/query"
	"github.com/model-collapse/quidditch/internal/pipeline/executor"
	"github.com/model-collapse/quidditch/internal/pipeline/registry"
	"github.com/model-collapse/quidditch/internal/pipeline/stage"
)

// Store is the registry contract the service depends on.
type Store interface {
	RegisterPipeline(def *registry.PipelineDefinition) error
	Pipeline(name, version string) (*registry.PipelineDefinition, error)
	ListPipelines() []*registry.PipelineDefinition
	DeletePipeline(name, version string) error
	ListStages() []*stage.Spec
	Resolve(name, version string) (*registry.Resolved, error)
}

// Runner executes resolved pipelines.
type Runner interface {
	RunQuery(ctx context.Context, p *registry.Resolved, req *query.Request, opts executor.RunOptions) (*query.Request, *executor.Report, error)
	RunResult(ctx context.Context, p *registry.Resolved, env *envelope.Envelope, opts executor.RunOptions) (*envelope.Envelope, *executor.Report, error)
}
