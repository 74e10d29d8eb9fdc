// Package executor runs resolved pipelines against requests and result
// envelopes. It owns the run-time contract: per-stage deadlines, panic
// isolation, failure policy, metadata merging, and invariant repair.
package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/model-collapse/quidditch/internal/domain"
	"github.com/model-collapse/quidditch/internal/domain/search/envelope"
	"github.com/model-collapse/quidditch/internal/domain/search/hit"
	"github.com/model-collapse/quidditch/internal/domain/search/query"
	"github.com/model-collapse/quidditch/internal/pipeline/capability"
	"github.com/model-collapse/quidditch/internal/pipeline/registry"
	"github.com/model-collapse/quidditch/internal/pipeline/stage"
)

// Test seam for duration measurement.
var nowFunc = time.Now

// Executor runs resolved pipelines. Safe for concurrent use.
type Executor struct {
	logger *zap.Logger
	// pool, when set, parallelizes per-hit filter evaluation.
	pool *ants.Pool
}

// Option configures an Executor.
type Option func(*Executor)

// WithFilterPool sets the worker pool used for per-hit filter evaluation.
// Without one, filters evaluate sequentially.
func WithFilterPool(pool *ants.Pool) Option {
	return func(e *Executor) { e.pool = pool }
}

// New creates an Executor.
func New(logger *zap.Logger, opts ...Option) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Executor{logger: logger}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RunOptions carries per-run inputs alongside the pipeline definition.
type RunOptions struct {
	// RequestID labels the run in logs and the report. A fresh ID is minted
	// when empty.
	RequestID string
	// Params are per-run parameter overlays, keyed by stage name. They shadow
	// the stage's registered config for capability parameter reads only.
	Params map[string]map[string]any
}

func (o RunOptions) runID() string {
	if o.RequestID != "" {
		return o.RequestID
	}
	return uuid.NewString()
}

// RunQuery executes a query pipeline over a request. The input request is
// never mutated; on abort the returned request is a clone of the input.
func (e *Executor) RunQuery(ctx context.Context, p *registry.Resolved, req *query.Request, opts RunOptions) (*query.Request, *Report, error) {
	if p.Type != stage.TypeQuery {
		return nil, nil, fmt.Errorf("%w: pipeline %s@%s is %s-typed, want query",
			domain.ErrKindMismatch, p.Name, p.Version, p.Type)
	}

	report := &Report{RunID: opts.runID(), Pipeline: p.Name, Version: p.Version}
	log := e.logger.With(
		zap.String("run_id", report.RunID),
		zap.String("pipeline", p.Name),
		zap.String("version", p.Version))

	origSize, origFrom := req.Size(), req.From()

	cur := req.Clone()
	for _, st := range p.Stages {
		runner := st.Runner.(stage.QueryRunner)
		caps := capability.NewForQuery(e.stageParams(st, opts), log.Named(st.Name))

		// The stage works on its own clone. A faulting stage cannot corrupt
		// the last-known-good request, and an abandoned (timed-out) goroutine
		// holds only a discarded copy.
		in := cur.Clone()
		out, meta, sr := e.invoke(ctx, st, caps, func(runCtx context.Context) (any, any, error) {
			return adaptQuery(runner.TransformQuery(runCtx, caps, in))
		})
		if sr.Fault == nil && out == nil {
			sr.Fault = &StageFault{Stage: st.Name, Version: st.Version, Reason: FaultOutput,
				Err: fmt.Errorf("nil request")}
		}

		if sr.Fault != nil {
			log.Warn("query stage faulted",
				zap.String("stage", st.Name),
				zap.String("reason", string(sr.Fault.Reason)),
				zap.Error(sr.Fault.Err))
			if p.Policy == registry.PolicyAbort {
				report.Stages = append(report.Stages, sr)
				return req.Clone(), report, sr.Fault
			}
			sr.Skipped = true
			report.Stages = append(report.Stages, sr)
			continue
		}

		cur = out.(*query.Request)
		e.repairPagination(st.Name, cur, origSize, origFrom, report)
		if meta != nil {
			cur.SetStageMetadata(st.Name, meta)
		}
		report.Stages = append(report.Stages, sr)
	}

	return cur, report, nil
}

// RunResult executes a result pipeline over an envelope. Result-kind stages
// run first in declared order, then filter-kind stages in declared order.
// The input envelope is never mutated; on abort the returned envelope is a
// clone of the input.
func (e *Executor) RunResult(ctx context.Context, p *registry.Resolved, env *envelope.Envelope, opts RunOptions) (*envelope.Envelope, *Report, error) {
	if p.Type != stage.TypeResult {
		return nil, nil, fmt.Errorf("%w: pipeline %s@%s is %s-typed, want result",
			domain.ErrKindMismatch, p.Name, p.Version, p.Type)
	}

	report := &Report{RunID: opts.runID(), Pipeline: p.Name, Version: p.Version}
	log := e.logger.With(
		zap.String("run_id", report.RunID),
		zap.String("pipeline", p.Name),
		zap.String("version", p.Version))

	var resultStages, filterStages []registry.ResolvedStage
	for _, st := range p.Stages {
		if st.Kind == stage.KindFilter {
			filterStages = append(filterStages, st)
		} else {
			resultStages = append(resultStages, st)
		}
	}

	cur := env.Clone()
	for _, st := range resultStages {
		runner := st.Runner.(stage.ResultRunner)
		caps := capability.NewForQuery(e.stageParams(st, opts), log.Named(st.Name))

		// Per-stage clone, as in RunQuery: faults and abandoned goroutines
		// never touch the last-known-good envelope.
		in := cur.Clone()
		out, meta, sr := e.invoke(ctx, st, caps, func(runCtx context.Context) (any, any, error) {
			return adaptResult(runner.TransformResult(runCtx, caps, in))
		})
		if sr.Fault == nil && out == nil {
			sr.Fault = &StageFault{Stage: st.Name, Version: st.Version, Reason: FaultOutput,
				Err: fmt.Errorf("nil envelope")}
		}

		if sr.Fault != nil {
			log.Warn("result stage faulted",
				zap.String("stage", st.Name),
				zap.String("reason", string(sr.Fault.Reason)),
				zap.Error(sr.Fault.Err))
			if p.Policy == registry.PolicyAbort {
				report.Stages = append(report.Stages, sr)
				return env.Clone(), report, sr.Fault
			}
			sr.Skipped = true
			report.Stages = append(report.Stages, sr)
			continue
		}

		cur = out.(*envelope.Envelope)
		e.repairMaxScore(st.Name, cur, report)
		if meta != nil {
			cur.SetStageMetadata(st.Name, meta)
		}
		report.Stages = append(report.Stages, sr)
	}

	for _, st := range filterStages {
		sr, aborted := e.runFilter(ctx, st, p.Policy, cur, opts, log, report)
		report.Stages = append(report.Stages, sr)
		if aborted {
			return env.Clone(), report, sr.Fault
		}
	}

	if p.ExactTotal {
		cur.SetTotal(uint64(len(cur.Hits())))
	}
	return cur, report, nil
}

// stageParams builds the parameter view a capability set exposes: the stage's
// registered config shadowed by per-run overrides.
func (e *Executor) stageParams(st registry.ResolvedStage, opts RunOptions) map[string]any {
	params := st.Config.Values()
	for k, v := range opts.Params[st.Name] {
		params[k] = v
	}
	return params
}

// repairPagination enforces that stages keep the caller's pagination: a
// dropped size or from comes back as the caller supplied it, an inflated
// size is clamped. Every repair is a contract warning on the report.
func (e *Executor) repairPagination(stageName string, req *query.Request, origSize, origFrom uint, report *Report) {
	size, from := req.Size(), req.From()
	switch {
	case size == 0:
		size = origSize
		report.Warnings = append(report.Warnings, ContractWarning{Stage: stageName,
			Detail: fmt.Sprintf("size dropped, restored to %d", origSize)})
	case size > query.MaxSize:
		size = query.MaxSize
		report.Warnings = append(report.Warnings, ContractWarning{Stage: stageName,
			Detail: fmt.Sprintf("size %d clamped to %d", req.Size(), query.MaxSize)})
	}
	if from == 0 && origFrom != 0 {
		from = origFrom
		report.Warnings = append(report.Warnings, ContractWarning{Stage: stageName,
			Detail: fmt.Sprintf("from dropped, restored to %d", origFrom)})
	}
	if size != req.Size() || from != req.From() {
		req.SetPagination(size, from)
	}
}

// repairMaxScore enforces the envelope invariant that max_score matches the
// best hit score. Stages that re-rank and forget the header get it fixed,
// with a warning on the report.
func (e *Executor) repairMaxScore(stageName string, env *envelope.Envelope, report *Report) {
	if len(env.Hits()) == 0 {
		return
	}
	actual := env.RecomputeMaxScore()
	if actual != env.MaxScore() {
		report.Warnings = append(report.Warnings, ContractWarning{Stage: stageName,
			Detail: fmt.Sprintf("max_score %g repaired to %g", env.MaxScore(), actual)})
		env.SetMaxScore(actual)
	}
}

type invokeOutcome struct {
	out   any
	meta  any
	err   error
	panic any
}

// invoke runs one query or result stage under its deadline, recovering
// panics at the boundary. On deadline the stage goroutine is abandoned and
// its capability set closed, so late reads see zero values only.
func (e *Executor) invoke(ctx context.Context, st registry.ResolvedStage, caps *capability.Set, fn func(context.Context) (any, any, error)) (any, any, StageReport) {
	sr := StageReport{Name: st.Name, Version: st.Version, Kind: string(st.Kind)}

	runCtx, cancel := context.WithTimeout(ctx, st.Timeout)
	defer cancel()

	start := nowFunc()
	done := make(chan invokeOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- invokeOutcome{panic: r}
			}
		}()
		out, meta, err := fn(runCtx)
		done <- invokeOutcome{out: out, meta: meta, err: err}
	}()

	select {
	case res := <-done:
		sr.Duration = nowFunc().Sub(start)
		caps.Close()
		switch {
		case res.panic != nil:
			sr.Fault = &StageFault{Stage: st.Name, Version: st.Version, Reason: FaultPanic,
				Err: fmt.Errorf("%v", res.panic)}
		case res.err != nil:
			sr.Fault = &StageFault{Stage: st.Name, Version: st.Version, Reason: FaultError,
				Err: res.err}
		default:
			return res.out, res.meta, sr
		}
		return nil, nil, sr
	case <-runCtx.Done():
		sr.Duration = nowFunc().Sub(start)
		caps.Close()
		sr.Fault = &StageFault{Stage: st.Name, Version: st.Version, Reason: FaultTimeout,
			Err: runCtx.Err()}
		return nil, nil, sr
	}
}

// runFilter evaluates one filter stage across all hits. Evaluation order in
// the output is the input order: admitted hits keep their relative positions
// regardless of evaluation concurrency.
func (e *Executor) runFilter(ctx context.Context, st registry.ResolvedStage, policy registry.FailurePolicy, env *envelope.Envelope, opts RunOptions, log *zap.Logger, report *Report) (StageReport, bool) {
	sr := StageReport{Name: st.Name, Version: st.Version, Kind: string(st.Kind)}
	runner := st.Runner.(stage.FilterRunner)
	params := e.stageParams(st, opts)
	hits := env.Hits()

	start := nowFunc()
	admitted := make([]bool, len(hits))
	faults := make([]*StageFault, len(hits))

	type verdict struct {
		ok    bool
		err   error
		panic any
	}

	// Each evaluation runs in its own goroutine with a hard deadline, the
	// same way invoke guards query and result stages. A filter that ignores
	// its context is abandoned at the deadline; closing the capability set
	// first means the stray goroutine only ever reads zero values.
	eval := func(i int, h *hit.Hit) {
		caps := capability.NewForDocument(h, params, log.Named(st.Name))

		runCtx, cancel := context.WithTimeout(ctx, st.Timeout)
		defer cancel()

		done := make(chan verdict, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- verdict{panic: r}
				}
			}()
			ok, err := runner.Admit(runCtx, caps)
			done <- verdict{ok: ok, err: err}
		}()

		select {
		case v := <-done:
			caps.Close()
			switch {
			case v.panic != nil:
				faults[i] = &StageFault{Stage: st.Name, Version: st.Version,
					Reason: FaultPanic, Err: fmt.Errorf("%v", v.panic)}
			case v.err != nil && runCtx.Err() != nil:
				faults[i] = &StageFault{Stage: st.Name, Version: st.Version,
					Reason: FaultTimeout, Err: v.err}
			case v.err != nil:
				faults[i] = &StageFault{Stage: st.Name, Version: st.Version,
					Reason: FaultError, Err: v.err}
			default:
				admitted[i] = v.ok
			}
		case <-runCtx.Done():
			caps.Close()
			faults[i] = &StageFault{Stage: st.Name, Version: st.Version,
				Reason: FaultTimeout, Err: runCtx.Err()}
		}
	}

	if e.pool != nil && len(hits) > 1 {
		var wg sync.WaitGroup
		for i, h := range hits {
			i, h := i, h
			wg.Add(1)
			task := func() {
				defer wg.Done()
				eval(i, h)
			}
			if err := e.pool.Submit(task); err != nil {
				task()
			}
		}
		wg.Wait()
	} else {
		for i, h := range hits {
			eval(i, h)
		}
	}
	sr.Duration = nowFunc().Sub(start)

	for _, f := range faults {
		if f == nil {
			continue
		}
		sr.Fault = f
		log.Warn("filter stage faulted",
			zap.String("stage", st.Name),
			zap.String("reason", string(f.Reason)),
			zap.Error(f.Err))
		if policy == registry.PolicyAbort {
			return sr, true
		}
		break
	}
	// Under the skip policy a faulted evaluation admits its hit; the stage
	// only ever narrows the result set on a clean verdict.
	if sr.Fault != nil && policy == registry.PolicySkip {
		for i, f := range faults {
			if f != nil {
				admitted[i] = true
			}
		}
	}

	kept := hits[:0:0]
	for i, h := range hits {
		if admitted[i] {
			kept = append(kept, h)
		}
	}
	dropped := len(hits) - len(kept)
	env.SetHits(kept)
	env.SetMaxScore(env.RecomputeMaxScore())
	env.SetStageMetadata(st.Name, map[string]any{
		"evaluated": len(hits),
		"admitted":  len(kept),
		"dropped":   dropped,
	})
	report.HitsDropped += dropped

	return sr, false
}

func adaptQuery(req *query.Request, meta any, err error) (any, any, error) {
	if req == nil {
		return nil, meta, err
	}
	return req, meta, err
}

func adaptResult(env *envelope.Envelope, meta any, err error) (any, any, error) {
	if env == nil {
		return nil, meta, err
	}
	return env, meta, err
}
