package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/model-collapse/quidditch/internal/domain"
	"github.com/model-collapse/quidditch/internal/domain/search/envelope"
	"github.com/model-collapse/quidditch/internal/domain/search/query"
	"github.com/model-collapse/quidditch/internal/pipeline/executor"
	"github.com/model-collapse/quidditch/internal/pipeline/registry"
	"github.com/model-collapse/quidditch/internal/pipeline/stage"
)

type mockStore struct {
	registered *registry.PipelineDefinition
	deleted    bool
	resolved   *registry.Resolved
	resolveErr error
}

func (m *mockStore) RegisterPipeline(def *registry.PipelineDefinition) error {
	m.registered = def
	return nil
}

func (m *mockStore) Pipeline(name, version string) (*registry.PipelineDefinition, error) {
	return nil, domain.ErrNotFound
}

func (m *mockStore) ListPipelines() []*registry.PipelineDefinition { return nil }

func (m *mockStore) DeletePipeline(name, version string) error {
	m.deleted = true
	return nil
}

func (m *mockStore) ListStages() []*stage.Spec { return nil }

func (m *mockStore) Resolve(name, version string) (*registry.Resolved, error) {
	if m.resolveErr != nil {
		return nil, m.resolveErr
	}
	return m.resolved, nil
}

type mockRunner struct {
	queryCalled  bool
	resultCalled bool
	runErr       error
}

func (m *mockRunner) RunQuery(_ context.Context, p *registry.Resolved, req *query.Request, _ executor.RunOptions) (*query.Request, *executor.Report, error) {
	m.queryCalled = true
	return req, &executor.Report{Pipeline: p.Name}, m.runErr
}

func (m *mockRunner) RunResult(_ context.Context, p *registry.Resolved, env *envelope.Envelope, _ executor.RunOptions) (*envelope.Envelope, *executor.Report, error) {
	m.resultCalled = true
	return env, &executor.Report{Pipeline: p.Name}, m.runErr
}

func makeRequest(t *testing.T) *query.Request {
	t.Helper()
	req, err := query.New(map[string]any{"match": map[string]any{"title": "laptop"}}, 10, 0)
	if err != nil {
		t.Fatalf("query.New: %v", err)
	}
	return req
}

func TestRun_QueryPipeline(t *testing.T) {
	store := &mockStore{resolved: &registry.Resolved{Name: "qp", Type: stage.TypeQuery}}
	runner := &mockRunner{}
	svc := New(store, runner)

	out, err := svc.Run(context.Background(), "qp", "1", RunInput{Request: makeRequest(t)})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !runner.queryCalled {
		t.Error("query runner not invoked")
	}
	if out.Request == nil || out.Report == nil || out.Envelope != nil {
		t.Errorf("output shape wrong: %+v", out)
	}
}

func TestRun_ResultPipeline(t *testing.T) {
	store := &mockStore{resolved: &registry.Resolved{Name: "rp", Type: stage.TypeResult}}
	runner := &mockRunner{}
	svc := New(store, runner)

	out, err := svc.Run(context.Background(), "rp", "1", RunInput{Envelope: envelope.New(0, 0, nil)})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !runner.resultCalled {
		t.Error("result runner not invoked")
	}
	if out.Envelope == nil || out.Request != nil {
		t.Errorf("output shape wrong: %+v", out)
	}
}

func TestRun_MissingPayload(t *testing.T) {
	store := &mockStore{resolved: &registry.Resolved{Name: "qp", Type: stage.TypeQuery}}
	svc := New(store, &mockRunner{})

	_, err := svc.Run(context.Background(), "qp", "1", RunInput{Envelope: envelope.New(0, 0, nil)})
	if !errors.Is(err, domain.ErrKindMismatch) {
		t.Fatalf("expected ErrKindMismatch, got %v", err)
	}
}

func TestRun_ResolveError(t *testing.T) {
	store := &mockStore{resolveErr: domain.ErrNotFound}
	runner := &mockRunner{}
	svc := New(store, runner)

	_, err := svc.Run(context.Background(), "gone", "1", RunInput{Request: makeRequest(t)})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if runner.queryCalled || runner.resultCalled {
		t.Error("runner must not be invoked when resolution fails")
	}
}

func TestRun_RunnerError(t *testing.T) {
	store := &mockStore{resolved: &registry.Resolved{Name: "qp", Type: stage.TypeQuery}}
	wantErr := errors.New("stage failed")
	svc := New(store, &mockRunner{runErr: wantErr})

	_, err := svc.Run(context.Background(), "qp", "1", RunInput{Request: makeRequest(t)})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected runner error, got %v", err)
	}
}

func TestRegisterAndDelete(t *testing.T) {
	store := &mockStore{}
	svc := New(store, &mockRunner{})

	def := &registry.PipelineDefinition{Name: "p", Version: "1", Type: stage.TypeQuery}
	if err := svc.Register(context.Background(), def); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if store.registered != def {
		t.Error("definition not forwarded to the store")
	}

	if err := svc.Delete(context.Background(), "p", "1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if !store.deleted {
		t.Error("delete not forwarded to the store")
	}
}
