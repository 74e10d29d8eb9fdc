package search

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/model-collapse/quidditch/internal/domain"
	"github.com/model-collapse/quidditch/internal/domain/search/envelope"
	"github.com/model-collapse/quidditch/internal/domain/search/hit"
	"github.com/model-collapse/quidditch/internal/domain/search/query"
	"github.com/model-collapse/quidditch/internal/pipeline/executor"
	"github.com/model-collapse/quidditch/internal/pipeline/registry"
	"github.com/model-collapse/quidditch/internal/pipeline/stage"
)

type mockEngine struct {
	called  bool
	lastReq *query.Request
	env     *envelope.Envelope
	err     error
}

func (m *mockEngine) Search(_ context.Context, req *query.Request) (*envelope.Envelope, error) {
	m.called = true
	m.lastReq = req
	if m.err != nil {
		return nil, m.err
	}
	return m.env, nil
}

type mockResolver struct {
	pipelines map[string]*registry.Resolved
}

func (m *mockResolver) Resolve(name, version string) (*registry.Resolved, error) {
	p, ok := m.pipelines[name]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return p, nil
}

type mockRunner struct {
	queryCalled  bool
	resultCalled bool
	queryErr     error
	resultErr    error
}

func (m *mockRunner) RunQuery(_ context.Context, p *registry.Resolved, req *query.Request, _ executor.RunOptions) (*query.Request, *executor.Report, error) {
	m.queryCalled = true
	report := &executor.Report{Pipeline: p.Name}
	if m.queryErr != nil {
		return req.Clone(), report, m.queryErr
	}
	out := req.Clone()
	out.SetStageMetadata("spell_check", map[string]any{"corrections": 1})
	return out, report, nil
}

func (m *mockRunner) RunResult(_ context.Context, p *registry.Resolved, env *envelope.Envelope, _ executor.RunOptions) (*envelope.Envelope, *executor.Report, error) {
	m.resultCalled = true
	report := &executor.Report{Pipeline: p.Name}
	if m.resultErr != nil {
		return env.Clone(), report, m.resultErr
	}
	out := env.Clone()
	out.SetStageMetadata("ml_rerank", map[string]any{"reranked_count": len(out.Hits())})
	return out, report, nil
}

func makeRequest(t *testing.T) *query.Request {
	t.Helper()
	req, err := query.New(map[string]any{"match": map[string]any{"title": "laptop"}}, 10, 0)
	if err != nil {
		t.Fatalf("query.New: %v", err)
	}
	return req
}

func makeEnvelope() *envelope.Envelope {
	return envelope.New(1, 1.0, []*hit.Hit{
		hit.New("a", 1.0, map[string]any{"title": "laptop"}),
	})
}

func resolver() *mockResolver {
	return &mockResolver{pipelines: map[string]*registry.Resolved{
		"qp": {Name: "qp", Version: "1", Type: stage.TypeQuery},
		"rp": {Name: "rp", Version: "1", Type: stage.TypeResult},
	}}
}

func TestSearch_FullFlow(t *testing.T) {
	eng := &mockEngine{env: makeEnvelope()}
	runner := &mockRunner{}
	svc := New(eng, resolver(), runner)

	out, err := svc.Search(context.Background(), Input{
		Request:        makeRequest(t),
		QueryPipeline:  Ref{Name: "qp", Version: "1"},
		ResultPipeline: Ref{Name: "rp", Version: "1"},
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if !runner.queryCalled || !eng.called || !runner.resultCalled {
		t.Errorf("phases: query=%v engine=%v result=%v", runner.queryCalled, eng.called, runner.resultCalled)
	}
	if out.QueryReport == nil || out.ResultReport == nil {
		t.Error("both phase reports must be present")
	}

	// Query-phase stage metadata must surface on the final envelope.
	meta := out.Envelope.Metadata()
	if _, ok := meta["spell_check"]; !ok {
		t.Errorf("query-phase metadata missing from envelope: %v", meta)
	}
	if _, ok := meta["ml_rerank"]; !ok {
		t.Errorf("result-phase metadata missing from envelope: %v", meta)
	}
}

func TestSearch_NoPipelines(t *testing.T) {
	eng := &mockEngine{env: makeEnvelope()}
	runner := &mockRunner{}
	svc := New(eng, resolver(), runner)

	in := makeRequest(t)
	out, err := svc.Search(context.Background(), Input{Request: in})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if runner.queryCalled || runner.resultCalled {
		t.Error("no pipeline phase should run")
	}
	if eng.lastReq != in {
		t.Error("request must reach the engine untouched")
	}
	if out.Envelope == nil || out.QueryReport != nil || out.ResultReport != nil {
		t.Errorf("output shape wrong: %+v", out)
	}
}

func TestSearch_UnknownQueryPipeline(t *testing.T) {
	eng := &mockEngine{env: makeEnvelope()}
	svc := New(eng, resolver(), &mockRunner{})

	_, err := svc.Search(context.Background(), Input{
		Request:       makeRequest(t),
		QueryPipeline: Ref{Name: "missing", Version: "1"},
	})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if eng.called {
		t.Error("engine must not be queried when resolution fails")
	}
}

func TestSearch_QueryAbortStopsBeforeEngine(t *testing.T) {
	eng := &mockEngine{env: makeEnvelope()}
	fault := &executor.StageFault{Stage: "spell_check", Reason: executor.FaultError, Err: errors.New("boom")}
	svc := New(eng, resolver(), &mockRunner{queryErr: fault})

	out, err := svc.Search(context.Background(), Input{
		Request:       makeRequest(t),
		QueryPipeline: Ref{Name: "qp", Version: "1"},
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "query pipeline") {
		t.Errorf("phase must be named in the error: %v", err)
	}
	if eng.called {
		t.Error("engine must not be queried after a query-phase abort")
	}
	if out != nil {
		t.Error("aborted search must not return an output")
	}
}

func TestSearch_ResultAbortFailsSearch(t *testing.T) {
	eng := &mockEngine{env: makeEnvelope()}
	fault := &executor.StageFault{Stage: "ml_rerank", Reason: executor.FaultPanic, Err: errors.New("boom")}
	svc := New(eng, resolver(), &mockRunner{resultErr: fault})

	_, err := svc.Search(context.Background(), Input{
		Request:        makeRequest(t),
		ResultPipeline: Ref{Name: "rp", Version: "1"},
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "result pipeline") {
		t.Errorf("phase must be named in the error: %v", err)
	}
	var sf *executor.StageFault
	if !errors.As(err, &sf) {
		t.Errorf("stage fault must be unwrappable: %v", err)
	}
}

func TestSearch_EngineError(t *testing.T) {
	eng := &mockEngine{err: domain.ErrEngineUnavailable}
	runner := &mockRunner{}
	svc := New(eng, resolver(), runner)

	_, err := svc.Search(context.Background(), Input{Request: makeRequest(t)})
	if !errors.Is(err, domain.ErrEngineUnavailable) {
		t.Fatalf("expected ErrEngineUnavailable, got %v", err)
	}
	if runner.resultCalled {
		t.Error("result phase must not run after an engine failure")
	}
}
