// Package search is the end-to-end search use case: query pipeline, engine
// call, result pipeline.
package search

import (
	"context"
	"fmt"
	"time"

	"github.com/model-collapse/quidditch/internal/domain/search/envelope"
	"github.com/model-collapse/quidditch/internal/domain/search/query"
	"github.com/model-collapse/quidditch/internal/metrics"
	"github.com/model-collapse/quidditch/internal/pipeline/executor"
)

// Ref names a registered pipeline.
type Ref struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

func (r Ref) isZero() bool { return r.Name == "" }

// Input is one search invocation. Both pipeline references are optional; an
// empty reference skips that phase.
type Input struct {
	Request        *query.Request
	QueryPipeline  Ref
	ResultPipeline Ref
	// Params are per-run stage parameter overlays, keyed by stage name.
	Params    map[string]map[string]any
	RequestID string
}

// Output carries the final envelope plus the transformed request and the
// per-phase run reports.
type Output struct {
	Envelope     *envelope.Envelope
	Request      *query.Request
	QueryReport  *executor.Report
	ResultReport *executor.Report
}

// Service orchestrates a search through its pipelines.
type Service struct {
	engine   Engine
	resolver Resolver
	runner   Runner
}

// New creates a search service.
func New(engine Engine, resolver Resolver, runner Runner) *Service {
	return &Service{engine: engine, resolver: resolver, runner: runner}
}

// Search runs the query pipeline, queries the engine, then runs the result
// pipeline. A query-phase abort fails the search; a result-phase abort does
// too, since the caller asked for the pipeline's view of the results.
func (s *Service) Search(ctx context.Context, in Input) (*Output, error) {
	out := &Output{Request: in.Request}
	opts := executor.RunOptions{RequestID: in.RequestID, Params: in.Params}

	if !in.QueryPipeline.isZero() {
		p, err := s.resolver.Resolve(in.QueryPipeline.Name, in.QueryPipeline.Version)
		if err != nil {
			return nil, err
		}
		req, report, err := s.runner.RunQuery(ctx, p, in.Request, opts)
		out.QueryReport = report
		metrics.ObserveRun(p.Name, string(p.Type), report, err)
		if err != nil {
			return nil, fmt.Errorf("query pipeline: %w", err)
		}
		out.Request = req
	}

	start := time.Now()
	env, err := s.engine.Search(ctx, out.Request)
	if err != nil {
		metrics.EngineRequestDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		return nil, err
	}
	metrics.EngineRequestDuration.WithLabelValues("ok").Observe(time.Since(start).Seconds())

	// Query-phase metadata rides along on the response so the caller sees
	// every stage that touched the search.
	for _, k := range out.Request.MetadataKeys() {
		env.SetStageMetadata(k, out.Request.Metadata()[k])
	}

	if !in.ResultPipeline.isZero() {
		p, err := s.resolver.Resolve(in.ResultPipeline.Name, in.ResultPipeline.Version)
		if err != nil {
			return nil, err
		}
		env, report, err := s.runner.RunResult(ctx, p, env, opts)
		out.ResultReport = report
		metrics.ObserveRun(p.Name, string(p.Type), report, err)
		if err != nil {
			return nil, fmt.Errorf("result pipeline: %w", err)
		}
		out.Envelope = env
		return out, nil
	}

	out.Envelope = env
	return out, nil
}
