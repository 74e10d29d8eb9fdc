package search

import (
	"context"

	"github.com/model-collapse/quidditch/internal/domain/search/envelope"
	"github.com/model-collapse/quidditch/internal/domain/search/query"
	"github.com/model-collapse/quidditch/internal/pipeline/executor"
	"github.com/model-collapse/quidditch/internal/pipeline/registry"
)

// Engine executes the raw search against the backing engine.
type Engine interface {
	Search(ctx context.Context, req *query.Request) (*envelope.Envelope, error)
}

// Resolver turns a pipeline reference into its runnable form.
type Resolver interface {
	Resolve(name, version string) (*registry.Resolved, error)
}

// Runner executes resolved pipelines.
type Runner interface {
	RunQuery(ctx context.Context, p *registry.Resolved, req *query.Request, opts executor.RunOptions) (*query.Request, *executor.Report, error)
	RunResult(ctx context.Context, p *registry.Resolved, env *envelope.Envelope, opts executor.RunOptions) (*envelope.Envelope, *executor.Report, error)
}
